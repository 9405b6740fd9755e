// Package crawler implements the catalog discovery and archive pipeline: the
// navigation retrier, the infinite-scroll frontier walker, the declarative
// metadata extractor, the record upserter, and the content archiver with its
// batch driver.
package crawler
