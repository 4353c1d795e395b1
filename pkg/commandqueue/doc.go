// Package commandqueue serializes work into named lanes.
//
// A lane runs its tasks in FIFO order under a concurrency limit; lanes are
// independent of each other. The gateway names lanes after session keys with
// a limit of one, which is what keeps at most one turn in flight per
// transcript.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "telegram:dm:42", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
