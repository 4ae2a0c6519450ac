package capture

import (
	"bytes"
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-capture/internal/scanning"
)

var _ = Describe("Controller", func() {
	var (
		queue      *memQueue
		gate       *Gate
		scanner    *mockScanner
		presenter  *recordingPresenter
		creator    *mockCreator
		autoSync   bool
		controller *Controller
		ctx        context.Context
	)

	photo := func() Artifact {
		return Artifact{Filename: "receipt.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes())}
	}

	BeforeEach(func() {
		queue = newMemQueue()
		gate = NewGate(false)
		scanner = &mockScanner{}
		presenter = newRecordingPresenter()
		creator = &mockCreator{failOn: map[string]error{}}
		autoSync = false
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		ids := &sequenceIDs{}
		clock := fixedClock{now: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)}
		feed := NewFeed(queue, nil)
		accounts := mockAccounts{accounts: []Account{{ID: "contanti", Name: "Contanti"}}}
		controller = NewController(ControllerConfig{
			Queue:    queue,
			Gate:     gate,
			Feed:     feed,
			Intake:   NewIntakeWithDeps(queue, gate, feed, ids, clock, nil),
			Resolver: NewResolverWithDeps(queue, gate, feed, scanner, accounts, nil, clock, nil),
			Router:   NewRouter(presenter, clock),
			Creator:  creator,
			IDs:      ids,
			AutoSync: autoSync,
		})
	})

	It("starts idle", func() {
		Expect(controller.State().Phase).To(Equal(PhaseIdle))
	})

	Describe("offline capture then reconnect", func() {
		BeforeEach(func() {
			scanner.candidates = []scanning.Candidate{{Description: "Spesa", Amount: "12,50", Category: "Alimentari"}}
		})

		It("queues, analyzes after reconnecting and empties the queue", func() {
			adm, err := controller.Capture(ctx, SourceCamera, photo())
			Expect(err).NotTo(HaveOccurred())
			Expect(adm.Handoff).To(BeFalse())
			Expect(controller.Queue()).To(HaveLen(1))
			Expect(controller.State().Phase).To(Equal(PhaseQueued))

			controller.SetOnline(true)
			Expect(presenter.lastNotice().Message).To(ContainSubstring("1 captures ready"))

			result, err := controller.AnalyzeQueued(ctx, adm.Item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Kind).To(Equal(SingleExpense))
			draft, _ := result.Draft()
			Expect(draft.Amount).To(Equal(12.5))
			Expect(draft.Category).To(Equal("Alimentari"))
			Expect(controller.Queue()).To(BeEmpty())

			state := controller.State()
			Expect(state.Phase).To(Equal(PhaseReviewing))
			Expect(state.ItemID).To(Equal(adm.Item.ID))

			Expect(controller.ConfirmDraft(ctx, adm.Item.ID, draft)).To(Succeed())
			Expect(creator.created).To(HaveLen(1))
			Expect(controller.State().Phase).To(Equal(PhaseIdle))
		})
	})

	Describe("online capture", func() {
		BeforeEach(func() {
			gate.Set(true)
			scanner.candidates = []scanning.Candidate{{Description: "Pizza", Amount: "18,00", Category: "Ristoranti"}}
		})

		It("asks before analyzing and writes nothing", func() {
			adm, err := controller.Capture(ctx, SourceCamera, photo())
			Expect(err).NotTo(HaveOccurred())
			Expect(adm.Handoff).To(BeTrue())

			state := controller.State()
			Expect(state.Phase).To(Equal(PhaseAwaitingChoice))
			Expect(state.ItemID).To(Equal(adm.Item.ID))
			Expect(state.Shared).To(BeFalse())
			Expect(queue.enqueues).To(BeZero())
			Expect(scanner.callCount()).To(BeZero())
		})

		When("the user chooses to analyze now", func() {
			It("analyzes without touching the queue", func() {
				adm, err := controller.Capture(ctx, SourceCamera, photo())
				Expect(err).NotTo(HaveOccurred())

				outcome, err := controller.Choose(ctx, adm.Item.ID, ChoiceAnalyze)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(SingleExpense))
				Expect(queue.enqueues).To(BeZero())
				Expect(controller.State().Phase).To(Equal(PhaseReviewing))
			})

			It("queues the capture when the analysis fails", func() {
				scanner.err = errBackend
				adm, err := controller.Capture(ctx, SourceCamera, photo())
				Expect(err).NotTo(HaveOccurred())

				outcome, err := controller.Choose(ctx, adm.Item.ID, ChoiceAnalyze)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(Failed))
				Expect(queue.ids()).To(ConsistOf(adm.Item.ID))
			})
		})

		DescribeTable("declining the prompt writes the capture to the queue",
			func(choice Choice) {
				adm, err := controller.Capture(ctx, SourceCamera, photo())
				Expect(err).NotTo(HaveOccurred())

				outcome, err := controller.Choose(ctx, adm.Item.ID, choice)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome).To(BeNil())
				Expect(idsOf(controller.Queue())).To(Equal([]string{adm.Item.ID}))
				Expect(scanner.callCount()).To(BeZero())
				Expect(controller.State().Phase).To(Equal(PhaseIdle))
			},
			Entry("queue it", ChoiceQueue),
			Entry("closing the prompt", ChoiceDismiss),
		)

		It("queues a waiting capture when another one arrives", func() {
			first, err := controller.Capture(ctx, SourceCamera, photo())
			Expect(err).NotTo(HaveOccurred())
			second, err := controller.Capture(ctx, SourceGallery, photo())
			Expect(err).NotTo(HaveOccurred())

			Expect(queue.ids()).To(ConsistOf(first.Item.ID))
			Expect(controller.State().ItemID).To(Equal(second.Item.ID))
		})
	})

	Describe("online capture with several expenses", func() {
		var analyzeNow func() *Outcome

		BeforeEach(func() {
			gate.Set(true)
			scanner.candidates = []scanning.Candidate{
				{Description: "Pane", Amount: 2.0},
				{Description: "Latte", Amount: 1.5},
				{Description: "Caffè", Amount: 3.2},
			}
			analyzeNow = func() *Outcome {
				adm, err := controller.Capture(ctx, SourceGallery, photo())
				Expect(err).NotTo(HaveOccurred())
				Expect(adm.Handoff).To(BeTrue())
				outcome, err := controller.Choose(ctx, adm.Item.ID, ChoiceAnalyze)
				Expect(err).NotTo(HaveOccurred())
				return outcome
			}
		})

		It("creates only the confirmed drafts, in list order", func() {
			outcome := analyzeNow()
			Expect(outcome.Kind).To(Equal(MultipleExpenses))
			Expect(outcome.Drafts).To(HaveLen(3))
			for _, d := range outcome.Drafts {
				Expect(d.Receipts).To(BeEmpty())
			}
			Expect(queue.enqueues).To(BeZero())

			created, err := controller.ConfirmReview(ctx, outcome.ItemID, []int{2, 0}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(Equal(2))
			Expect(creator.created).To(HaveLen(2))
			Expect(creator.created[0].Description).To(Equal("Pane"))
			Expect(creator.created[1].Description).To(Equal("Caffè"))
			Expect(controller.State().Reviews).To(BeEmpty())
		})

		It("keeps creating after a failure and leaves the failed draft in review", func() {
			creator.failOn["Latte"] = errors.New("ledger locked")
			outcome := analyzeNow()

			created, err := controller.ConfirmReview(ctx, outcome.ItemID, nil, nil)
			Expect(err).To(MatchError(ContainSubstring("ledger locked")))
			Expect(created).To(Equal(2))
			Expect(creator.created[1].Description).To(Equal("Caffè"))
			Expect(presenter.lastNotice().Level).To(Equal(NoticeError))

			state := controller.State()
			Expect(state.Phase).To(Equal(PhaseReviewing))
			Expect(state.Reviews).To(HaveLen(1))
			Expect(state.Reviews[0].Drafts).To(HaveLen(1))
			Expect(state.Reviews[0].Drafts[0].Description).To(Equal("Latte"))

			delete(creator.failOn, "Latte")
			created, err = controller.ConfirmReview(ctx, outcome.ItemID, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(Equal(1))
			Expect(creator.created).To(HaveLen(3))
			Expect(controller.State().Reviews).To(BeEmpty())
		})

		It("uses edited drafts when all are given", func() {
			outcome := analyzeNow()

			edits := append([]Draft{}, outcome.Drafts...)
			edits[0].Description = "Pane integrale"
			_, err := controller.ConfirmReview(ctx, outcome.ItemID, []int{0}, edits)
			Expect(err).NotTo(HaveOccurred())
			Expect(creator.created[0].Description).To(Equal("Pane integrale"))
		})

		It("rejects confirming an unknown review", func() {
			_, err := controller.ConfirmReview(ctx, "nope", nil, nil)
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("cancels a review without creating anything", func() {
			outcome := analyzeNow()
			Expect(controller.CancelReview(ctx, outcome.ItemID)).To(Succeed())
			Expect(creator.created).To(BeEmpty())
			Expect(controller.State().Phase).To(Equal(PhaseIdle))
		})
	})

	Describe("confirming a single draft", func() {
		BeforeEach(func() {
			queue = newMemQueue(NewItem("A", pngBytes(), "image/png", time.UnixMilli(1000)))
			gate.Set(true)
			scanner.candidates = []scanning.Candidate{{Description: "Farmacia", Amount: 9.9}}
		})

		It("keeps the edited draft in review when creation fails", func() {
			outcome, err := controller.AnalyzeQueued(ctx, "A")
			Expect(err).NotTo(HaveOccurred())
			Expect(queue.ids()).To(BeEmpty())

			draft, _ := outcome.Draft()
			draft.Description = "Farmacia centrale"
			creator.failOn["Farmacia centrale"] = errors.New("disk full")

			err = controller.ConfirmDraft(ctx, "A", draft)
			Expect(err).To(MatchError(ContainSubstring("disk full")))

			state := controller.State()
			Expect(state.Phase).To(Equal(PhaseReviewing))
			Expect(state.ItemID).To(Equal("A"))
			Expect(state.Reviews).To(HaveLen(1))
			Expect(presenter.drafts["A"].Description).To(Equal("Farmacia centrale"))

			delete(creator.failOn, "Farmacia centrale")
			Expect(controller.ConfirmDraft(ctx, "A", draft)).To(Succeed())
			Expect(creator.created).To(HaveLen(1))
			Expect(controller.State().Reviews).To(BeEmpty())
		})
	})

	Describe("cold start from the share sheet", func() {
		var older, newer *Item

		BeforeEach(func() {
			older = NewItem("A", pngBytes(), "image/png", time.UnixMilli(1000))
			newer = NewItem("B", pngBytes(), "image/png", time.UnixMilli(2000))
			queue = newMemQueue(older, newer)
		})

		It("holds the newest item aside and lists the rest", func() {
			state, err := controller.Launch(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal(PhaseAwaitingChoice))
			Expect(state.ItemID).To(Equal("B"))
			Expect(state.Shared).To(BeTrue())
			Expect(idsOf(controller.Queue())).To(Equal([]string{"A"}))
		})

		When("the user chooses to queue it", func() {
			It("returns it to the visible queue", func() {
				_, err := controller.Launch(ctx, true)
				Expect(err).NotTo(HaveOccurred())

				outcome, err := controller.Choose(ctx, "B", ChoiceQueue)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome).To(BeNil())
				Expect(idsOf(controller.Queue())).To(Equal([]string{"B", "A"}))
				Expect(controller.State().Phase).To(Equal(PhaseIdle))
			})
		})

		When("the user dismisses the prompt after the item vanished", func() {
			It("writes it back", func() {
				_, err := controller.Launch(ctx, true)
				Expect(err).NotTo(HaveOccurred())
				Expect(queue.Remove("B")).To(Succeed())

				_, err = controller.Choose(ctx, "B", ChoiceDismiss)
				Expect(err).NotTo(HaveOccurred())
				Expect(idsOf(controller.Queue())).To(Equal([]string{"B", "A"}))
			})
		})

		When("the user chooses to analyze it", func() {
			BeforeEach(func() {
				gate.Set(true)
				scanner.candidates = []scanning.Candidate{{Description: "Cena", Amount: 40.0, Category: "Ristoranti"}}
			})

			It("consumes only the shared item", func() {
				_, err := controller.Launch(ctx, true)
				Expect(err).NotTo(HaveOccurred())

				outcome, err := controller.Choose(ctx, "B", ChoiceAnalyze)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(SingleExpense))
				Expect(queue.ids()).To(ConsistOf("A"))
				Expect(controller.State().Phase).To(Equal(PhaseReviewing))
			})
		})

		It("returns the previously held item to the listing on a second share", func() {
			_, err := controller.Launch(ctx, true)
			Expect(err).NotTo(HaveOccurred())

			adm, err := controller.Capture(ctx, SourceSharedFile, photo())
			Expect(err).NotTo(HaveOccurred())

			state, err := controller.Launch(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal(PhaseAwaitingChoice))
			Expect(state.ItemID).To(Equal(adm.Item.ID))
			Expect(idsOf(controller.Queue())).To(Equal([]string{"B", "A"}))
		})

		It("rejects a choice for another item", func() {
			_, err := controller.Launch(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			_, err = controller.Choose(ctx, "A", ChoiceQueue)
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		When("the queue is empty", func() {
			BeforeEach(func() {
				queue = newMemQueue()
			})

			It("reports that no shared item exists", func() {
				_, err := controller.Launch(ctx, true)
				Expect(errors.Is(err, ErrNoSharedItem)).To(BeTrue())
				Expect(controller.State().Phase).To(Equal(PhaseIdle))
			})
		})

		It("does nothing special on a normal launch", func() {
			state, err := controller.Launch(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal(PhaseIdle))
			Expect(controller.Queue()).To(HaveLen(2))
		})
	})

	Describe("share target hand-off", func() {
		BeforeEach(func() {
			gate.Set(true)
		})

		It("queues the shared file and resolves it on the next launch", func() {
			adm, err := controller.Capture(ctx, SourceSharedFile, photo())
			Expect(err).NotTo(HaveOccurred())
			Expect(scanner.callCount()).To(BeZero())

			state, err := controller.Launch(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal(PhaseAwaitingChoice))
			Expect(state.ItemID).To(Equal(adm.Item.ID))

			state, err = controller.Launch(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal(PhaseAwaitingChoice))
		})
	})

	Describe("analysis attempts", func() {
		BeforeEach(func() {
			queue = newMemQueue(
				NewItem("one", pngBytes(), "image/png", time.UnixMilli(1000)),
				NewItem("two", pngBytes(), "image/png", time.UnixMilli(2000)),
			)
		})

		When("offline", func() {
			It("refuses and keeps the item", func() {
				_, err := controller.AnalyzeQueued(ctx, "one")
				Expect(errors.Is(err, ErrOffline)).To(BeTrue())
				Expect(queue.ids()).To(ConsistOf("one", "two"))
				Expect(presenter.lastNotice().Level).To(Equal(NoticeError))
				Expect(controller.State().Phase).To(Equal(PhaseQueued))
			})
		})

		When("the backend fails", func() {
			BeforeEach(func() {
				gate.Set(true)
				scanner.err = errBackend
			})

			It("keeps the item and notifies", func() {
				outcome, err := controller.AnalyzeQueued(ctx, "one")
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(Failed))
				Expect(queue.ids()).To(ConsistOf("one", "two"))
				Expect(presenter.lastNotice().Message).To(ContainSubstring("still in the queue"))
			})
		})

		When("the item does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := controller.AnalyzeQueued(ctx, "missing")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})

		When("an analysis is already running", func() {
			BeforeEach(func() {
				gate.Set(true)
				scanner.block = make(chan struct{})
				scanner.started = make(chan struct{}, 2)
				scanner.candidates = []scanning.Candidate{}
			})

			It("rejects a second attempt for the same item only", func() {
				done := make(chan struct{}, 2)
				go func() {
					defer GinkgoRecover()
					_, err := controller.AnalyzeQueued(ctx, "one")
					Expect(err).NotTo(HaveOccurred())
					done <- struct{}{}
				}()
				Eventually(scanner.started).Should(Receive())

				go func() {
					defer GinkgoRecover()
					_, err := controller.AnalyzeQueued(ctx, "two")
					Expect(err).NotTo(HaveOccurred())
					done <- struct{}{}
				}()
				Eventually(scanner.started).Should(Receive())

				_, err := controller.AnalyzeQueued(ctx, "one")
				Expect(errors.Is(err, ErrAnalysisInProgress)).To(BeTrue())

				close(scanner.block)
				Eventually(done).Should(Receive())
				Eventually(done).Should(Receive())
				Expect(queue.ids()).To(BeEmpty())
			})
		})

		When("another attempt consumes an item during a sync", func() {
			var release chan struct{}

			BeforeEach(func() {
				gate.Set(true)
				release = make(chan struct{})
				scanner.candidates = []scanning.Candidate{}
				scanner.started = make(chan struct{}, 3)
				scanner.waitOn = map[int]chan struct{}{1: release}
				scanner.failFrom = 3
			})

			It("skips the consumed item instead of analyzing it again", func() {
				type result struct {
					consumed int
					err      error
				}
				done := make(chan result, 1)
				go func() {
					defer GinkgoRecover()
					consumed, err := controller.Sync(ctx)
					done <- result{consumed, err}
				}()
				Eventually(scanner.started).Should(Receive())

				outcome, err := controller.AnalyzeQueued(ctx, "two")
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(NoExpenseFound))
				Expect(queue.ids()).To(ConsistOf("one"))

				close(release)
				var r result
				Eventually(done).Should(Receive(&r))
				Expect(r.err).NotTo(HaveOccurred())
				Expect(r.consumed).To(Equal(1))
				Expect(scanner.callCount()).To(Equal(2))
				Expect(queue.ids()).To(BeEmpty())
			})
		})

		It("refuses to discard an item being analyzed", func() {
			gate.Set(true)
			scanner.block = make(chan struct{})
			scanner.started = make(chan struct{}, 1)
			scanner.candidates = []scanning.Candidate{}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				_, err := controller.AnalyzeQueued(ctx, "one")
				Expect(err).NotTo(HaveOccurred())
				close(done)
			}()
			Eventually(scanner.started).Should(Receive())

			err := controller.Discard(ctx, "one")
			Expect(errors.Is(err, ErrAnalysisInProgress)).To(BeTrue())

			close(scanner.block)
			Eventually(done).Should(BeClosed())
			Expect(queue.ids()).To(ConsistOf("two"))
		})

		Describe("Sync", func() {
			BeforeEach(func() {
				gate.Set(true)
				scanner.candidates = []scanning.Candidate{}
			})

			It("drains the queue", func() {
				consumed, err := controller.Sync(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(consumed).To(Equal(2))
				Expect(queue.ids()).To(BeEmpty())
			})

			When("an analysis fails", func() {
				BeforeEach(func() {
					scanner.err = errBackend
				})

				It("stops at the first failure", func() {
					consumed, err := controller.Sync(ctx)
					Expect(errors.Is(err, ErrInference)).To(BeTrue())
					Expect(consumed).To(BeZero())
					Expect(scanner.callCount()).To(Equal(1))
				})
			})
		})

		When("auto-sync is on", func() {
			BeforeEach(func() {
				autoSync = true
				scanner.candidates = []scanning.Candidate{{Description: "Taxi", Amount: 18.0}}
			})

			It("analyzes queued items when connectivity returns", func() {
				controller.SetOnline(true)
				Eventually(queue.ids).Should(BeEmpty())
				Eventually(func() []Outcome { return controller.State().Reviews }).Should(HaveLen(2))

				state := controller.State()
				Expect(state.Reviews[0].ItemID).To(Equal("one"))
				Expect(state.Phase).To(Equal(PhaseReviewing))
			})
		})
	})

	Describe("Discard", func() {
		BeforeEach(func() {
			queue = newMemQueue(NewItem("one", pngBytes(), "image/png", time.UnixMilli(1000)))
		})

		It("removes the item", func() {
			Expect(controller.Discard(ctx, "one")).To(Succeed())
			Expect(queue.ids()).To(BeEmpty())
		})

		It("reports storage failures", func() {
			queue.removeErr = errors.New("locked")
			err := controller.Discard(ctx, "one")
			Expect(errors.Is(err, ErrStorage)).To(BeTrue())
		})
	})

	Describe("CaptureVoice", func() {
		BeforeEach(func() {
			scanner.voice = &scanning.Candidate{Description: "Benzina", Amount: "50", Category: "Trasporti"}
		})

		When("online", func() {
			BeforeEach(func() {
				gate.Set(true)
			})

			It("returns a draft awaiting confirmation without queueing", func() {
				outcome, err := controller.CaptureVoice(ctx, "note.webm", "audio/webm", bytes.NewReader([]byte("audio")))
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(SingleExpense))
				Expect(outcome.ItemID).To(HavePrefix("voice-"))
				Expect(queue.enqueues).To(BeZero())

				draft, _ := outcome.Draft()
				Expect(draft.Category).To(Equal("Trasporti"))
				Expect(controller.ConfirmDraft(ctx, outcome.ItemID, draft)).To(Succeed())
				Expect(creator.created).To(HaveLen(1))
			})

			It("rejects unsupported audio", func() {
				_, err := controller.CaptureVoice(ctx, "note.txt", "text/plain", bytes.NewReader([]byte("hi")))
				Expect(errors.Is(err, ErrDecode)).To(BeTrue())
			})
		})

		When("offline", func() {
			It("returns ErrOffline", func() {
				_, err := controller.CaptureVoice(ctx, "note.webm", "audio/webm", bytes.NewReader([]byte("audio")))
				Expect(errors.Is(err, ErrOffline)).To(BeTrue())
				Expect(queue.enqueues).To(BeZero())
			})
		})
	})
})
