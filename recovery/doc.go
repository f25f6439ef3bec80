// Package recovery schedules structural cleanup that an index needs after an
// unclean shutdown.
//
// Opening a tree hands its cleanup [Job] to a [Collector]. The collector
// decides when the job runs:
//
//   - [Immediate] runs it synchronously inside Add
//   - [Group] queues jobs until Start, then runs them in the background with
//     bounded parallelism
//   - [Ignore] drops them
//
// Jobs must tolerate running after their owner closed; they then do nothing.
package recovery
