// Package discovery maps configured devices onto local store entities.
//
// A device claims entities whose id contains its entity prefix; the part
// after the prefix resolves to a property through an ordered suffix rule
// list. The engine maintains the resulting device -> property -> entity
// map, records per-device failures, and retries them on a schedule without
// disturbing devices that already mapped.
package discovery
