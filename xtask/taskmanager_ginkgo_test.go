/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xtask_test

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/xrootd-go/xrdcl/xtask"
)

var _ = Describe("TaskManager", func() {
	var m *xtask.TaskManager

	BeforeEach(func() {
		m = xtask.NewTaskManager()
		go m.Run()
	})

	AfterEach(func() {
		m.Stop()
	})

	It("reschedules a task until it returns a non-positive duration", func() {
		var fires int32
		m.Register("repeat", time.Millisecond, func() time.Duration {
			n := atomic.AddInt32(&fires, 1)
			if n >= 3 {
				return 0
			}
			return time.Millisecond
		})

		Eventually(func() int32 {
			return atomic.LoadInt32(&fires)
		}, 2*time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 3))

		Eventually(func() int {
			return m.Len()
		}, time.Second, 5*time.Millisecond).Should(Equal(0))
	})

	It("drops an unregistered task before it ever fires", func() {
		var fired int32
		m.Register("cancel-me", 50*time.Millisecond, func() time.Duration {
			atomic.AddInt32(&fired, 1)
			return 0
		})
		m.Unregister("cancel-me")

		Consistently(func() int32 {
			return atomic.LoadInt32(&fired)
		}, 100*time.Millisecond, 10*time.Millisecond).Should(BeZero())
	})
})
