package capture_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/ledger"
	"github.com/zombor/expense-capture/internal/scanning"
	"github.com/zombor/expense-capture/internal/store"
)

// stubScanner returns the same candidates for every capture
type stubScanner struct {
	candidates []scanning.Candidate
}

func (s *stubScanner) ScanExpenses(ctx context.Context, data []byte, mimeType string) ([]scanning.Candidate, error) {
	return s.candidates, nil
}

func (s *stubScanner) ScanVoice(ctx context.Context, audio []byte, mimeType string) (*scanning.Candidate, error) {
	return nil, nil
}

func (s *stubScanner) Close() error { return nil }

var _ = Describe("Integration", func() {
	var (
		tempDir    string
		dbPath     string
		db         *store.BoltDB
		book       *ledger.Ledger
		gate       *capture.Gate
		scanner    *stubScanner
		controller *capture.Controller
		ctx        context.Context
	)

	build := func() {
		var err error
		db, err = store.NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		receipts, err := ledger.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())
		book = ledger.NewLedger(db, receipts, nil, nil)

		feed := capture.NewFeed(db, nil)
		controller = capture.NewController(capture.ControllerConfig{
			Queue:    db,
			Gate:     gate,
			Feed:     feed,
			Intake:   capture.NewIntake(db, gate, feed, nil),
			Resolver: capture.NewResolver(db, gate, feed, scanner, book, nil, nil),
			Router:   capture.NewRouter(capture.NewInbox(), nil),
			Creator:  book,
		})
	}

	photo := func() capture.Artifact {
		var buf bytes.Buffer
		Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3)))).To(Succeed())
		return capture.Artifact{Filename: "receipt.png", ContentType: "image/png", Body: &buf}
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tempDir, "expenses.db")
		gate = capture.NewGate(false)
		scanner = &stubScanner{}
		ctx = context.Background()
		build()
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	It("keeps an offline capture across a restart and consumes it once online", func() {
		scanner.candidates = []scanning.Candidate{{Description: "Spesa", Amount: "12,50", Category: "Alimentari"}}

		adm, err := controller.Capture(ctx, capture.SourceCamera, photo())
		Expect(err).NotTo(HaveOccurred())

		Expect(db.Close()).To(Succeed())
		build()

		items, err := db.ListAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].ID).To(Equal(adm.Item.ID))

		controller.SetOnline(true)
		outcome, err := controller.AnalyzeQueued(ctx, adm.Item.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Kind).To(Equal(capture.SingleExpense))

		draft, _ := outcome.Draft()
		Expect(draft.Amount).To(Equal(12.5))
		Expect(draft.Category).To(Equal("Alimentari"))

		items, err = db.ListAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(BeEmpty())

		Expect(controller.ConfirmDraft(ctx, outcome.ItemID, draft)).To(Succeed())
		expenses, err := book.ListExpenses(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(expenses).To(HaveLen(1))
		Expect(expenses[0].Amount).To(Equal(int64(1250)))
		Expect(expenses[0].Receipts).To(HaveLen(1))
	})

	It("creates two of three reviewed expenses in list order", func() {
		gate.Set(true)
		scanner.candidates = []scanning.Candidate{
			{Description: "Pane", Amount: 2.1},
			{Description: "Latte", Amount: 1.5},
			{Description: "Uova", Amount: 3.0},
		}

		adm, err := controller.Capture(ctx, capture.SourceGallery, photo())
		Expect(err).NotTo(HaveOccurred())
		outcome, err := controller.Choose(ctx, adm.Item.ID, capture.ChoiceAnalyze)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Kind).To(Equal(capture.MultipleExpenses))
		Expect(outcome.Drafts).To(HaveLen(3))

		created, err := controller.ConfirmReview(ctx, outcome.ItemID, []int{0, 2}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(Equal(2))

		expenses, err := book.ListExpenses(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(expenses).To(HaveLen(2))
		for _, e := range expenses {
			Expect(e.Receipts).To(BeEmpty())
		}

		items, err := db.ListAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(BeEmpty())
	})
})
