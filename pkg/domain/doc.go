// Package domain defines the core types shared by the collection proxy: the
// closed set of fetch failure kinds and the JSON envelope used for error
// responses. It depends only on the standard library.
package domain
