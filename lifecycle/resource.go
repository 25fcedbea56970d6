package lifecycle

import (
	"time"
	"weak"
)

// ResourceType classifies a managed resource for counting and leak thresholds.
type ResourceType string

// Known resource types.
const (
	TypeWatcher    ResourceType = "watcher"
	TypeListener   ResourceType = "listener"
	TypeTimer      ResourceType = "timer"
	TypeAnimation  ResourceType = "animation"
	TypeCacheEntry ResourceType = "cacheEntry"
)

// DefaultThresholds are the per-type live-resource counts above which
// DetectLeaks reports a violation.
var DefaultThresholds = map[ResourceType]int{
	TypeWatcher:    100,
	TypeListener:   500,
	TypeTimer:      50,
	TypeAnimation:  20,
	TypeCacheEntry: 1000,
}

// Owner is a handle tying registered resources to an owning context. Keep
// the *Owner alive alongside the context object; once it becomes
// unreachable and is collected, resources registered with it are considered
// orphaned and eligible for reclamation. The Tracker holds only a weak
// reference and never extends the owner's lifetime.
type Owner struct {
	createdAt time.Time
}

// NewOwner creates an owner handle.
func NewOwner() *Owner {
	return &Owner{createdAt: time.Now()}
}

// DefaultResourceSize is the size estimate used when none is given.
const DefaultResourceSize = 1024

// resource is one tracked cleanup obligation.
type resource struct {
	id             string
	typ            ResourceType
	cleanup        func()
	owner          weak.Pointer[Owner]
	hasOwner       bool
	createdAt      time.Time
	lastAccessedAt time.Time
	sizeBytes      int64
}

// orphaned reports whether the owning context has been collected.
func (r *resource) orphaned() bool {
	return r.hasOwner && r.owner.Value() == nil
}

// Violation is one leak threshold breach reported by DetectLeaks.
type Violation struct {
	Type      ResourceType
	Count     int
	Threshold int
}

// RegisterOption configures a resource at registration time.
type RegisterOption func(*resource)

// WithOwner attaches a weak back-reference to the owning context.
func WithOwner(o *Owner) RegisterOption {
	return func(r *resource) {
		if o != nil {
			r.owner = weak.Make(o)
			r.hasOwner = true
		}
	}
}

// WithSize sets the estimated size in bytes.
func WithSize(bytes int64) RegisterOption {
	return func(r *resource) {
		if bytes > 0 {
			r.sizeBytes = bytes
		}
	}
}

// WithResourceID sets an explicit id instead of a generated one.
func WithResourceID(id string) RegisterOption {
	return func(r *resource) {
		if id != "" {
			r.id = id
		}
	}
}
