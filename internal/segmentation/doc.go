// Package segmentation turns an uploaded customer batch into persona-labeled
// records.
//
// Two pure steps live here. The Sanitizer validates and coerces raw CSV rows
// into typed records, counting rather than failing on bad rows. Label maps
// the classifier's cluster indices onto the ordered persona ladder by ranking
// clusters on their mean income and balance. The ranking is recomputed for
// every batch: the same cluster index can denote a different persona after
// the model is retrained, so nothing here is cached.
package segmentation
