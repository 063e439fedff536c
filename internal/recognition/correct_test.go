package recognition

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Correct", func() {
	DescribeTable("glyph corrections",
		func(in, want string) {
			Expect(Correct(in)).To(Equal(want))
		},
		Entry("empty", "", ""),
		Entry("farsi yeh and keheh", "کریم", "كريم"),
		Entry("extended digits", "۱۲۳", "123"),
		Entry("alef isolated presentation form", "\uFE8D\uFEA3\uFEE4\uFEAA", "احمد"),
		Entry("lam-alef ligature", "\uFEFB", "لا"),
		Entry("latin c between arabic letters", "حcن", "حسن"),
		Entry("zero between arabic letters", "ط0", "ط0"),
		Entry("zero inside a word", "مح0د", "محهد"),
		Entry("latin c in latin text is kept", "chassis", "chassis"),
		Entry("direction marks are removed", "\u200fرقم\u200e 12", "رقم 12"),
		Entry("repeated spaces collapse", "a  \t b", "a b"),
		Entry("blank lines collapse", "a\n\n\n\nb", "a\n\nb"),
		Entry("lines are trimmed", "  a \n b  ", "a\nb"),
	)

	It("should keep VIN-like tokens intact", func() {
		Expect(Correct("VIN 1HGCM82633A004352")).To(Equal("VIN 1HGCM82633A004352"))
	})
})

var _ = Describe("TranscriptionPrompt", func() {
	It("should describe the script hint", func() {
		Expect(TranscriptionPrompt("ara+eng")).To(ContainSubstring("Arabic with some English"))
		Expect(TranscriptionPrompt("fra")).To(ContainSubstring("written in fra"))
	})
})

var _ = Describe("StripFences", func() {
	DescribeTable("fences",
		func(in, want string) {
			Expect(StripFences(in)).To(Equal(want))
		},
		Entry("plain text", "  رقم 12  ", "رقم 12"),
		Entry("bare fence", "```\nline one\nline two\n```", "line one\nline two"),
		Entry("fence with language tag", "```text\nline\n```", "line"),
		Entry("inline fence", "```line```", "line"),
	)
})
