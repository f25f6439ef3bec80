// Package numindex provides the accessor of a crash-safe, disk-resident
// secondary index over numeric property values.
//
// An [Accessor] owns one backing file for its whole lifetime. It hands out a
// single reusable [Updater] for mutation, any number of [Reader] and
// [AllEntriesReader] instances for queries, and makes published changes
// durable on [Accessor.Force].
//
// # Quick Start
//
//	pc := pagecache.New()
//	acc, _ := numindex.Open(pc, "./age.idx", layout.NonUnique(), recovery.Immediate())
//	defer acc.Close()
//
//	u, _ := acc.NewUpdater(numindex.UpdateOnline)
//	_ = u.Process(numindex.Add(1, layout.Int64(42)))
//	_ = u.Close()
//
//	_ = acc.Force(nil) // durable from here on
//
//	r, _ := acc.NewReader()
//	defer r.Close()
//	ids := r.Lookup(layout.Int64(42))
//
// # Durability
//
// Force is the only durability boundary. Close does not checkpoint: changes
// published after the last Force are gone after a restart. After an unclean
// shutdown the next Open registers a cleanup job with the recovery
// collector; the index is usable before the job ran.
//
// # Concurrency
//
// Readers see the state published by the last closed Updater session at the
// time they were created. Only one Updater session is open at a time.
package numindex
