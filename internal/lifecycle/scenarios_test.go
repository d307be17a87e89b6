package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/naming"
)

var _ = ginkgo.Describe("Environment lifecycle", func() {
	var (
		h   *harness
		ctx context.Context
	)

	ginkgo.BeforeEach(func() {
		var err error
		h, err = newHarness()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	ginkgo.Describe("identifiers", func() {
		ginkgo.It("derives the same id for create and delete without shared state", func() {
			a, err := naming.Resolve("feature/user-auth")
			Expect(err).NotTo(HaveOccurred())
			b, err := naming.Resolve("feature/user-auth")
			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(Equal("feature-user-auth"))
			Expect(b).To(Equal(a))
		})
	})

	ginkgo.Describe("provisioning feature/user-auth", func() {
		ginkgo.It("reaches Ready with an external endpoint", func() {
			report, err := h.orch.Handle(ctx, created("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())

			Expect(report.ID).To(Equal("feature-user-auth"))
			Expect(report.FinalPhase).To(Equal(environment.PhaseReady))
			Expect(report.ExternalEndpoint).NotTo(BeEmpty())
			Expect(report.FailureReason).To(BeEmpty())
			Expect(h.recorder.phases("feature-user-auth")).To(Equal(environment.ProvisionPhases))
		})

		ginkgo.It("converges on one environment when applied repeatedly", func() {
			_, err := h.orch.Handle(ctx, created("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())
			_, err = h.orch.Handle(ctx, updated("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())

			envs, err := h.api.ListEnvironments(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(envs).To(HaveLen(1))
			Expect(h.api.AppliedCount("feature-user-auth")).To(Equal(2))
		})
	})

	ginkgo.Describe("a Delete event during provisioning", func() {
		ginkgo.DescribeTable("ends in Deleted and never in Ready",
			func(phase environment.Phase) {
				if phase == environment.PhaseWaitingReady {
					h.api.SetReadyAfter(1 << 30)
				} else {
					h.provider.never = true
				}

				Expect(h.orch.OnBranchEvent(ctx, created("feature/user-auth"))).To(Succeed())
				Expect(h.recorder.await("feature-user-auth", phase, 2*time.Second)).To(BeTrue())
				Expect(h.orch.OnBranchEvent(ctx, deleted("feature/user-auth"))).To(Succeed())
				h.orch.Wait()

				reports := h.recorder.allReports()
				Expect(reports).To(HaveLen(1))
				Expect(reports[0].FinalPhase).To(Equal(environment.PhaseDeleted))
				Expect(reports[0].Event).To(Equal(environment.EventDeleted))
				Expect(h.recorder.phases("feature-user-auth")).NotTo(ContainElement(environment.PhaseReady))
				Expect(h.recorder.phases("feature-user-auth")).NotTo(ContainElement(environment.PhaseFailed))
				Expect(h.api.Exists("feature-user-auth")).To(BeFalse())
				Expect(h.provider.releasedIDs()).To(ConsistOf("feature-user-auth"))
			},
			ginkgo.Entry("while waiting for the database", environment.PhaseWaitingReady),
			ginkgo.Entry("while waiting for the endpoint", environment.PhaseWaitingEndpoint),
		)

		ginkgo.It("hands the Delete caller the decommission report", func() {
			h.provider.never = true
			Expect(h.orch.OnBranchEvent(ctx, created("feature/user-auth"))).To(Succeed())
			Expect(h.recorder.await("feature-user-auth", environment.PhaseWaitingEndpoint, 2*time.Second)).To(BeTrue())

			report, err := h.orch.Handle(ctx, deleted("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.FinalPhase).To(Equal(environment.PhaseDeleted))
			h.orch.Wait()
		})
	})

	ginkgo.Describe("readiness polling", func() {
		ginkgo.It("times out within maxWait plus one poll interval", func() {
			timeouts := testTimeouts()
			timeouts.Ready = 100 * time.Millisecond
			timeouts.PollInterval = 20 * time.Millisecond
			var err error
			h, err = newHarness(WithTimeouts(timeouts))
			Expect(err).NotTo(HaveOccurred())
			h.api.SetReadyAfter(1 << 30)

			report, err := h.orch.Handle(ctx, created("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())

			Expect(report.FinalPhase).To(Equal(environment.PhaseFailed))
			Expect(report.FailedPhase).To(Equal(environment.PhaseWaitingReady))
			Expect(report.FailureReason).To(ContainSubstring("timed out"))
			waited := report.DurationByPhase[environment.PhaseWaitingReady]
			Expect(waited).To(BeNumerically(">=", timeouts.Ready))
			Expect(waited).To(BeNumerically("<", timeouts.Ready+timeouts.PollInterval+100*time.Millisecond))
		})
	})

	ginkgo.Describe("schema migration", func() {
		ginkgo.It("reports A=Success, B=Failure, C=NotRun when B fails", func() {
			var err error
			h, err = newHarness(WithMigrationPlan(MigrationPlan{Changesets: changesets("A", "B", "C")}))
			Expect(err).NotTo(HaveOccurred())
			h.tool.fail["B"] = errors.New("syntax error at or near \"TABEL\"")

			report, err := h.orch.Handle(ctx, created("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())

			Expect(report.FinalPhase).To(Equal(environment.PhaseFailed))
			statuses := map[string]environment.ChangesetStatus{}
			for _, cs := range report.Changesets {
				statuses[cs.Name] = cs.Status
			}
			Expect(statuses).To(Equal(map[string]environment.ChangesetStatus{
				"A": environment.ChangesetSuccess,
				"B": environment.ChangesetFailure,
				"C": environment.ChangesetNotRun,
			}))
		})
	})

	ginkgo.Describe("decommissioning", func() {
		ginkgo.It("succeeds for an environment that never existed", func() {
			report, err := h.orch.Handle(ctx, deleted("feature/never-created"))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.FinalPhase).To(Equal(environment.PhaseDeleted))
			Expect(h.recoverer.calls.Load()).To(BeZero())
		})

		ginkgo.It("recovers a namespace wedged in terminating exactly once", func() {
			_, err := h.orch.Handle(ctx, created("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())
			h.api.SetStuck("feature-user-auth", true)

			report, err := h.orch.Handle(ctx, deleted("feature/user-auth"))
			Expect(err).NotTo(HaveOccurred())

			Expect(report.FinalPhase).To(Equal(environment.PhaseDeleted))
			Expect(report.Recovered).To(BeTrue())
			Expect(h.recoverer.calls.Load()).To(Equal(int32(1)))
			Expect(h.api.Calls(cluster.OpClearFinalizers)).To(Equal(1))
			Expect(h.api.Exists("feature-user-auth")).To(BeFalse())
		})
	})
})
