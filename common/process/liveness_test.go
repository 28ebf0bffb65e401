package process_test

import (
	"os"
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/training-queue/common/process"
)

var _ = Describe("ProcessTableChecker", func() {
	checker := process.NewProcessTableChecker()

	It("Will report the current process as alive", func() {
		alive, err := checker.IsAlive(int32(os.Getpid()))
		Expect(err).To(BeNil())
		Expect(alive).To(BeTrue())
	})

	It("Will report an exited process as dead", func() {
		cmd := exec.Command("true")
		Expect(cmd.Run()).To(Succeed())

		alive, err := checker.IsAlive(int32(cmd.Process.Pid))
		Expect(err).To(BeNil())
		Expect(alive).To(BeFalse())
	})

	It("Will never report non-positive pids as alive", func() {
		alive, err := checker.IsAlive(0)
		Expect(err).To(BeNil())
		Expect(alive).To(BeFalse())
	})
})

var _ = Describe("Self", func() {
	It("Will identify the current process", func() {
		self := process.CurrentProcess()
		Expect(self.PID).To(Equal(int32(os.Getpid())))

		hostname, err := os.Hostname()
		if err == nil {
			Expect(self.Hostname).To(Equal(hostname))
		}
	})

	DescribeTable("Will decide which records can be judged locally",
		func(self string, owner string, expected bool) {
			Expect(process.Self{PID: 1, Hostname: self}.IsLocal(owner)).To(Equal(expected))
		},
		Entry("same host", "node-1", "node-1", true),
		Entry("other host", "node-1", "node-2", false),
		Entry("record without host", "node-1", "", true),
		Entry("unknown local host", "", "node-2", true),
	)
})
