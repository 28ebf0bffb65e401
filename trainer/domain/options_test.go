package domain_test

import (
	"errors"
	"time"

	"github.com/Scusemua/go-utils/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/trainer/domain"
)

var _ = Describe("TrainerOptions", func() {
	It("Will fill in defaults", func() {
		options := domain.TrainerOptions{}

		flags, err := config.ValidateOptionsWithFlags(&options)
		Expect(err).To(BeNil())
		Expect(flags.Args()).To(BeEmpty())

		Expect(options.Host).To(Equal(storage.DefaultRedisHost))
		Expect(options.Port).To(Equal(storage.DefaultRedisPort))
		Expect(options.Database).To(Equal(0))
		Expect(options.KeyPrefix).To(Equal(""))
		Expect(options.MinFreeMemoryBytes()).To(Equal(uint64(20) << 30))
		Expect(options.RetryIntervalDuration()).To(Equal(time.Minute))
		Expect(options.Policy()).To(Equal(domain.FailureAbort))
		Expect(options.MaxAttempts).To(Equal(0))
		Expect(options.TransientRegexp().MatchString("RuntimeError: CUDA out of memory. Tried to allocate 2.00 GiB")).To(BeTrue())
	})

	It("Will parse flags and leave the training command in the remaining arguments", func() {
		options := domain.TrainerOptions{}

		flags, err := config.ValidateOptionsWithFlags(&options,
			"-redis_host", "redis.internal",
			"-redis_port", "6380",
			"-queue_key_prefix", "lab",
			"-min_free_memory", "8GiB",
			"-retry_interval", "5",
			"-failure_policy", "REQUEUE",
			"-max_attempts", "3",
			"--", "python", "train.py", "--epochs", "10")
		Expect(err).To(BeNil())

		Expect(flags.Args()).To(Equal([]string{"python", "train.py", "--epochs", "10"}))
		Expect(options.Host).To(Equal("redis.internal"))
		Expect(options.Port).To(Equal(6380))
		Expect(options.KeyPrefix).To(Equal("lab"))
		Expect(options.MinFreeMemoryBytes()).To(Equal(uint64(8) << 30))
		Expect(options.RetryIntervalDuration()).To(Equal(5 * time.Second))
		Expect(options.Policy()).To(Equal(domain.FailureRequeue))
		Expect(options.MaxAttempts).To(Equal(3))
	})

	DescribeTable("Will reject invalid options",
		func(options domain.TrainerOptions) {
			err := options.Validate()
			Expect(errors.Is(err, domain.ErrInvalidOption)).To(BeTrue())
		},
		Entry("unparseable memory size", domain.TrainerOptions{MinFreeMemory: "plenty"}),
		Entry("unknown failure policy", domain.TrainerOptions{FailurePolicy: "retry-forever"}),
		Entry("negative attempt limit", domain.TrainerOptions{MaxAttempts: -1}),
		Entry("invalid transient pattern", domain.TrainerOptions{TransientPattern: "CUDA ("}),
	)
})
