package storage_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
)

var _ = Describe("TaskQueues", func() {
	var (
		ctx    context.Context
		store  *storage.MemoryStore
		queues *storage.TaskQueues
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewMemoryStore()
		Expect(store.Connect(ctx)).To(Succeed())
		queues = storage.NewTaskQueues(store, "")
		now = time.Now()
	})

	It("Will use the historical key names", func() {
		Expect(queues.Key(storage.WaitQueue)).To(Equal("wait_queue"))
		Expect(queues.Key(storage.RunQueue)).To(Equal("run_queue"))
		Expect(queues.Key(storage.CompleteQueue)).To(Equal("complete_queue"))
		Expect(queues.Key(storage.ClosedQueue)).To(Equal("close_queue"))

		prefixed := storage.NewTaskQueues(store, "lab")
		Expect(prefixed.Key(storage.WaitQueue)).To(Equal("lab:wait_queue"))
	})

	It("Will map queues to states and back", func() {
		for _, q := range storage.Queues {
			Expect(storage.QueueForState(q.State())).To(Equal(q))
		}

		q, err := storage.ParseQueueName("run")
		Expect(err).To(BeNil())
		Expect(q).To(Equal(storage.RunQueue))

		_, err = storage.ParseQueueName("pending")
		Expect(errors.Is(err, storage.ErrUnknownQueue)).To(BeTrue())
	})

	It("Will push, read and pop typed tasks in order", func() {
		t1 := types.NewTask("1*100", 1, "h", now)
		t2 := types.NewTask("2*100", 2, "h", now)
		Expect(queues.PushTail(ctx, storage.WaitQueue, t1)).To(Succeed())
		Expect(queues.PushTail(ctx, storage.WaitQueue, t2)).To(Succeed())

		head, err := queues.Head(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(head.TaskID).To(Equal("1*100"))

		pos, err := queues.Position(ctx, storage.WaitQueue, "2*100")
		Expect(err).To(BeNil())
		Expect(pos).To(Equal(1))

		pos, err = queues.Position(ctx, storage.WaitQueue, "3*100")
		Expect(err).To(BeNil())
		Expect(pos).To(Equal(-1))

		popped, err := queues.PopHead(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(popped.TaskID).To(Equal("1*100"))

		tasks, err := queues.Range(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(tasks).To(HaveLen(1))
		Expect(tasks[0].TaskID).To(Equal("2*100"))
	})

	It("Will return nil for the head of an empty queue", func() {
		head, err := queues.Head(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(head).To(BeNil())

		popped, err := queues.PopHead(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(popped).To(BeNil())
	})

	It("Will remove a record by its stored encoding", func() {
		// Written by a different producer, with different spacing than the canonical encoding.
		foreign := `{"task_id": "9*100", "system_pid": 9, "use_gpus": "", "state": "waiting", "create_time": "2024-03-01 12:30:45"}`
		Expect(store.PushTail(ctx, "wait_queue", foreign)).To(Succeed())

		task, err := queues.Find(ctx, storage.WaitQueue, "9*100")
		Expect(err).To(BeNil())
		Expect(task).ToNot(BeNil())

		removed, err := queues.Remove(ctx, storage.WaitQueue, task)
		Expect(err).To(BeNil())
		Expect(removed).To(BeTrue())

		n, _ := queues.Len(ctx, storage.WaitQueue)
		Expect(n).To(Equal(int64(0)))

		removed, err = queues.Remove(ctx, storage.WaitQueue, task)
		Expect(err).To(BeNil())
		Expect(removed).To(BeFalse())
	})

	It("Will skip malformed records while reporting them", func() {
		Expect(queues.PushTail(ctx, storage.RunQueue, types.NewTask("1*100", 1, "h", now).Admitted([]int{0}, now))).To(Succeed())
		Expect(store.PushTail(ctx, "run_queue", `{"task_id":"broken"}`)).To(Succeed())

		tasks, err := queues.Range(ctx, storage.RunQueue)
		Expect(errors.Is(err, types.ErrMalformedRecord)).To(BeTrue())
		Expect(tasks).To(HaveLen(1))

		n, _ := queues.Len(ctx, storage.RunQueue)
		Expect(n).To(Equal(int64(2)))

		found, err := queues.Find(ctx, storage.RunQueue, "1*100")
		Expect(err).To(BeNil())
		Expect(found).ToNot(BeNil())
	})

	It("Will leave a malformed head in place when reading or popping it", func() {
		broken := `{"task_id":"7*1","system_pid":7,"state":"paused","create_time":"2024-03-01 12:30:45"}`
		Expect(store.PushTail(ctx, "wait_queue", broken)).To(Succeed())
		Expect(queues.PushTail(ctx, storage.WaitQueue, types.NewTask("8*1", 8, "h", now))).To(Succeed())

		head, err := queues.Head(ctx, storage.WaitQueue)
		Expect(errors.Is(err, types.ErrMalformedRecord)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(`"task_id":"7*1"`))
		Expect(head).To(BeNil())

		popped, err := queues.PopHead(ctx, storage.WaitQueue)
		Expect(errors.Is(err, types.ErrMalformedRecord)).To(BeTrue())
		Expect(popped).To(BeNil())

		values, err := store.Range(ctx, "wait_queue", 0, -1)
		Expect(err).To(BeNil())
		Expect(values).To(HaveLen(2))
		Expect(values[0]).To(Equal(broken))
	})

	It("Will restore a popped record to the head with its exact encoding", func() {
		foreign := `{"task_id":"5*1","system_pid":5,"use_gpus":"","state":"waiting","create_time":"2024-03-01 12:30:45"}`
		Expect(store.PushTail(ctx, "wait_queue", foreign)).To(Succeed())
		Expect(queues.PushTail(ctx, storage.WaitQueue, types.NewTask("6*1", 6, "h", now))).To(Succeed())

		popped, err := queues.PopHead(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(queues.PushHead(ctx, storage.WaitQueue, popped)).To(Succeed())

		values, _ := store.Range(ctx, "wait_queue", 0, 0)
		Expect(values).To(Equal([]string{foreign}))
	})
})
