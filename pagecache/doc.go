// Package pagecache maps index backing files and serves their pages through
// a shared, byte-bounded LRU cache.
//
// Every page is PageSize bytes: a payload followed by a CRC32-C trailer. The
// checksum is written by WritePage and verified by ReadPage, so torn or
// corrupted pages surface as ErrChecksum instead of garbage.
//
// A path can be mapped once at a time. A second Map of the same path, from
// this process or (on unix) from another process holding the advisory lock,
// fails with ErrAlreadyMapped. Delete refuses mapped paths.
//
//	pc := pagecache.New(pagecache.WithPageSize(8 << 10))
//	pf, err := pc.Map("/data/index/number.db", true)
//	...
//	defer pc.Unmap(pf)
package pagecache
