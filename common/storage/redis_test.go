package storage_test

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
)

var _ = Describe("RedisStore", func() {
	var (
		ctx    context.Context
		store  *storage.RedisStore
		queues *storage.TaskQueues
	)

	BeforeEach(func() {
		addr := os.Getenv("TRAINING_QUEUE_REDIS_ADDR")
		if addr == "" {
			Skip("set TRAINING_QUEUE_REDIS_ADDR to run Redis integration tests")
		}

		host, portStr, err := net.SplitHostPort(addr)
		Expect(err).To(BeNil())
		port, err := strconv.Atoi(portStr)
		Expect(err).To(BeNil())

		ctx = context.Background()
		store = storage.NewRedisStore(storage.RedisOptions{
			Host:     host,
			Port:     port,
			Username: os.Getenv("TRAINING_QUEUE_REDIS_USERNAME"),
			Password: os.Getenv("TRAINING_QUEUE_REDIS_PASSWORD"),
		}, nil)
		Expect(store.Connect(ctx)).To(Succeed())

		queues = storage.NewTaskQueues(store, "training-queue:test:"+strconv.FormatInt(time.Now().UnixNano(), 10))
	})

	AfterEach(func() {
		if store != nil {
			_ = store.Close()
		}
	})

	It("Will push, range, remove and pop tasks", func() {
		now := time.Now()
		t1 := types.NewTask("1*100", 1, "h", now)
		t2 := types.NewTask("2*100", 2, "h", now)
		Expect(queues.PushTail(ctx, storage.WaitQueue, t1)).To(Succeed())
		Expect(queues.PushTail(ctx, storage.WaitQueue, t2)).To(Succeed())

		tasks, err := queues.Range(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(tasks).To(HaveLen(2))
		Expect(tasks[0].TaskID).To(Equal("1*100"))

		removed, err := queues.Remove(ctx, storage.WaitQueue, tasks[1])
		Expect(err).To(BeNil())
		Expect(removed).To(BeTrue())

		popped, err := queues.PopHead(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(popped.TaskID).To(Equal("1*100"))

		popped, err = queues.PopHead(ctx, storage.WaitQueue)
		Expect(err).To(BeNil())
		Expect(popped).To(BeNil())
	})
})

var _ = Describe("RedisStore connection failures", func() {
	It("Will fail to connect to an unreachable server", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(BeNil())
		port := listener.Addr().(*net.TCPAddr).Port
		Expect(listener.Close()).To(Succeed())

		store := storage.NewRedisStore(storage.RedisOptions{Host: "127.0.0.1", Port: port}, nil)
		err = store.Connect(context.Background())
		Expect(err).ToNot(BeNil())
		Expect(err).To(MatchError(storage.ErrStoreUnavailable))
		Expect(store.ConnectionStatus()).To(Equal(storage.Disconnected))
	})

	It("Will refuse operations before connecting", func() {
		store := storage.NewRedisStore(storage.RedisOptions{}, nil)
		_, _, err := store.PopHead(context.Background(), "wait_queue")
		Expect(err).To(MatchError(storage.ErrNotConnected))
	})
})
