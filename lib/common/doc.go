// Package common holds the pieces shared by all geoKV packages: the error
// taxonomy (Error, RetCode and the Err* sentinels), the dragonboat based
// logger factory and the IndexConfig used by the command line tools.
//
// Errors are compared by code:
//
//	if errors.Is(err, common.ErrKeyNotFound) {
//	    // ...
//	}
package common
