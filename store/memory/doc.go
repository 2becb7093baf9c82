// Package memory is an in-process goIdP.Repository for development servers,
// load tests and handler tests. Data lives only as long as the Store.
package memory
