package scan

import (
	"os"
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
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "files"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("should write the file and return its name", func() {
			name, err := storage.Save("id1_licence.jpg", []byte("content"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("id1_licence.jpg"))

			data, err := os.ReadFile(filepath.Join(tmpDir, "files", "id1_licence.jpg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("content")))
		})

		DescribeTable("should reject names that leave the directory",
			func(name string) {
				_, err := storage.Save(name, []byte("x"))
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			},
			Entry("parent", "../escape.jpg"),
			Entry("nested", "a/b.jpg"),
			Entry("dot-dot", ".."),
			Entry("empty", ""),
		)
	})

	Describe("Get", func() {
		It("should read a saved file", func() {
			_, err := storage.Save("a.png", []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			data, err := storage.Get("a.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png")))
		})

		It("should return ErrNotFound for a missing file", func() {
			_, err := storage.Get("missing.png")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("a.png", []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete("a.png")).To(Succeed())
			_, err = os.Stat(filepath.Join(tmpDir, "files", "a.png"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should fail for a missing file", func() {
			Expect(storage.Delete("missing.png")).To(HaveOccurred())
		})
	})
})
