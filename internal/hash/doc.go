// Package hash provides the CRC32-Castagnoli checksum used for page trailers,
// checkpoint state slots and backup manifests.
//
// One-shot:
//
//	sum := hash.CRC32C(page[:n])
//
// Streaming:
//
//	h := hash.NewCRC32C()
//	_, _ = io.Copy(h, r)
//	sum := h.Sum32()
package hash
