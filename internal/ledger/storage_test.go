package ledger

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename string
			saved    string
			err      error
		)

		BeforeEach(func() {
			filename = "exp-1_0.png"
		})

		JustBeforeEach(func() {
			saved, err = storage.Save(filename, []byte("receipt"))
		})

		When("the name is plain", func() {
			It("writes the file", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(saved).To(Equal(filename))
				Expect(filepath.Join(tmpDir, "receipts", filename)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the directory", func() {
			BeforeEach(func() {
				filename = "../outside.png"
			})

			It("refuses it", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid receipt file name")))
				Expect(filepath.Join(tmpDir, "outside.png")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("a.jpg", []byte("content"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns its contents", func() {
				data, err := storage.Get("a.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("content"))
			})
		})

		When("the file does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get("missing.jpg")
				Expect(err).To(MatchError(ContainSubstring("reading receipt")))
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := storage.Save("a.jpg", []byte("content"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes the file", func() {
			Expect(storage.Delete("a.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "receipts", "a.jpg")).NotTo(BeAnExistingFile())
		})

		It("fails for a missing file", func() {
			Expect(storage.Delete("b.jpg")).To(MatchError(ContainSubstring("deleting receipt")))
		})
	})
})
