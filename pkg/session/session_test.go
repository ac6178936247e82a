package session

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

var viewport = geometry.Size{Width: 400, Height: 300}

func collection(name string, w, h int) *annotation.Collection {
	return annotation.New(annotation.Image{Filename: name, Width: w, Height: h})
}

func names(cols []*annotation.Collection) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Filename()
	}
	return out
}

var _ = Describe("Session", func() {
	var s *Session

	BeforeEach(func() {
		s = New(WithViewport(viewport))
	})

	It("should start empty", func() {
		Expect(s.Len()).To(BeZero())
		Expect(s.Current()).To(BeNil())
		Expect(s.Next(true)).To(BeNil())
		Expect(s.Prev()).To(BeNil())
		Expect(s.Goto(3)).To(BeNil())
		_, ok := s.Export()
		Expect(ok).To(BeFalse())
	})

	Context("adding files", func() {
		It("should order files by name and lay them out", func() {
			s.Add(collection("b.png", 800, 600), collection("a.png", 800, 600), collection("C.png", 800, 600))
			Expect(names(s.Files())).To(Equal([]string{"a.png", "b.png", "C.png"}))
			Expect(s.Current().Filename()).To(Equal("a.png"))
			Expect(s.Current().Scale()).To(Equal(0.5))
		})

		It("should keep the current file current", func() {
			s.Add(collection("b.png", 8, 6), collection("d.png", 8, 6))
			s.Goto(1)
			s.Add(collection("a.png", 8, 6))
			Expect(s.Current().Filename()).To(Equal("d.png"))
			Expect(s.Index()).To(Equal(2))
		})

		It("should not add the same collection twice", func() {
			a := collection("a.png", 800, 600)
			a.AddRegion(geometry.Rect{X: 10, Y: 10, Width: 20, Height: 20}, "cat")
			s.Add(a, a)
			s.Add(collection("b.png", 8, 6), a)
			Expect(names(s.Files())).To(Equal([]string{"a.png", "b.png"}))
			Expect(s.ExportAll()).To(HaveLen(1))
		})

		It("should order digit runs by value with a numeric collator", func() {
			n := New(WithCollator(NewCollator(true)))
			n.Add(collection("img10.png", 1, 1), collection("img2.png", 1, 1))
			Expect(names(n.Files())).To(Equal([]string{"img2.png", "img10.png"}))

			s.Add(collection("img10.png", 1, 1), collection("img2.png", 1, 1))
			Expect(names(s.Files())).To(Equal([]string{"img10.png", "img2.png"}))
		})
	})

	Context("navigating", func() {
		var first, second *annotation.Collection

		BeforeEach(func() {
			first = collection("1.png", 800, 600)
			second = collection("2.png", 1600, 1200)
			s.Add(first, second)
			first.AddRegion(geometry.Rect{X: 100, Y: 100, Width: 50, Height: 50}, "cat")
		})

		It("should carry regions forward in image space", func() {
			Expect(s.Next(true)).To(Equal(second))
			Expect(second.Len()).To(Equal(1))

			carried := second.Regions()[0]
			Expect(carried.Image()).To(Equal(geometry.Rect{X: 200, Y: 200, Width: 100, Height: 100}))
			Expect(carried.Display()).To(Equal(geometry.Rect{X: 50, Y: 50, Width: 25, Height: 25}))
			Expect(carried.Owner()).To(Equal(second))
			Expect(first.Len()).To(Equal(1))
			Expect(first.Regions()[0]).NotTo(BeIdenticalTo(carried))
		})

		It("should not carry without the flag", func() {
			s.Next(false)
			Expect(second.Len()).To(BeZero())
		})

		It("should stay at the last file", func() {
			s.Next(false)
			Expect(s.Next(true)).To(Equal(second))
			Expect(s.Index()).To(Equal(1))
			Expect(second.Len()).To(BeZero())
		})

		It("should stay at the first file", func() {
			Expect(s.Prev()).To(Equal(first))
			Expect(s.Index()).To(BeZero())
		})

		It("should clamp Goto", func() {
			Expect(s.Goto(99)).To(Equal(second))
			Expect(s.Goto(-4)).To(Equal(first))
		})

		It("should re-lay out the current file on resize", func() {
			t := s.Resize(geometry.Size{Width: 200, Height: 150})
			Expect(t.Scale).To(Equal(0.25))
			Expect(first.Regions()[0].Display()).To(Equal(geometry.Rect{X: 50, Y: 50, Width: 25, Height: 25}))
			Expect(s.Viewport()).To(Equal(geometry.Size{Width: 200, Height: 150}))
		})

		It("should lay out other files when they become current", func() {
			s.SetViewport(geometry.Size{Width: 160, Height: 120})
			Expect(first.Scale()).To(Equal(0.5))
			s.Next(false)
			Expect(second.Scale()).To(Equal(0.1))
		})

		It("should label the selected region", func() {
			Expect(s.LabelSelected("dog")).To(BeTrue())
			Expect(first.Regions()[0].Label()).To(Equal("dog"))

			s.Next(false)
			Expect(s.LabelSelected("dog")).To(BeFalse())
		})

		It("should clear the current file", func() {
			s.ClearCurrent()
			Expect(first.Len()).To(BeZero())
		})

		It("should export only files with regions", func() {
			third := collection("3.png", 10, 10)
			s.Add(third)
			third.Layout(viewport)
			third.AddRegion(geometry.Rect{Width: 1, Height: 1}, "x")

			exports := s.ExportAll()
			Expect(exports).To(HaveLen(2))
			Expect(exports[0].Name).To(Equal("1.json"))
			Expect(exports[1].Name).To(Equal("3.json"))
			Expect(Documents(exports)).To(HaveLen(2))

			e, ok := s.Export()
			Expect(ok).To(BeTrue())
			Expect(e.Document.Shapes).To(HaveLen(1))
		})

		It("should apply a label resolver to every file", func() {
			s.SetLabelResolver(func(l string) string { return "[" + l + "]" })
			Expect(first.Regions()[0].DisplayLabel()).To(Equal("[cat]"))
			Expect(second.ResolveLabel("x")).To(Equal("[x]"))

			late := collection("9.png", 1, 1)
			s.Add(late)
			Expect(late.ResolveLabel("y")).To(Equal("[y]"))
		})

		It("should reset", func() {
			s.Reset()
			Expect(s.Len()).To(BeZero())
			Expect(s.Current()).To(BeNil())
			Expect(s.Index()).To(BeZero())
		})
	})
})
