package labelme_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
)

const expectedDocument = `{
    "version": "5.5.0",
    "flags": {},
    "shapes": [
        {
            "label": "cat",
            "points": [
                [
                    200,
                    200
                ],
                [
                    300,
                    300
                ]
            ],
            "group_id": null,
            "description": "",
            "shape_type": "rectangle",
            "flags": {},
            "mask": null
        }
    ],
    "imagePath": "a.png",
    "imageData": "AAAA",
    "imageHeight": 600,
    "imageWidth": 800
}`

func sampleDocument() *labelme.Document {
	doc := labelme.New()
	doc.Shapes = append(doc.Shapes, labelme.NewRectangle("cat", geometry.Rect{X: 200, Y: 200, Width: 100, Height: 100}))
	doc.ImagePath = "a.png"
	doc.ImageData = "AAAA"
	doc.ImageHeight = 600
	doc.ImageWidth = 800
	return doc
}

var _ = Describe("Document", func() {
	Context("when marshalling", func() {
		It("should produce the fixed layout", func() {
			data, err := sampleDocument().Marshal()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(expectedDocument))
		})

		It("should be deterministic", func() {
			first, err := sampleDocument().Marshal()
			Expect(err).NotTo(HaveOccurred())
			second, err := sampleDocument().Marshal()
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(second))
		})

		It("should write empty objects for nil flags", func() {
			doc := &labelme.Document{Version: labelme.Version, ImagePath: "x.png"}
			doc.Shapes = []labelme.Shape{{Label: "a", Points: [][]float64{{0, 0}, {1, 1}}, ShapeType: labelme.ShapeRectangle}}
			data, err := doc.Marshal()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"flags": {}`))
			Expect(string(data)).NotTo(ContainSubstring(`"flags": null`))
		})

		It("should not escape HTML characters in labels", func() {
			doc := sampleDocument()
			doc.Shapes[0].Label = "cat & <dog>"
			data, err := doc.Marshal()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"label": "cat & <dog>"`))
		})
	})

	Context("when parsing", func() {
		It("should read back a marshalled document", func() {
			doc, err := labelme.Parse([]byte(expectedDocument))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Version).To(Equal(labelme.Version))
			Expect(doc.ImagePath).To(Equal("a.png"))
			Expect(doc.ImageData).To(Equal("AAAA"))
			Expect(doc.ImageWidth).To(Equal(800))
			Expect(doc.ImageHeight).To(Equal(600))
			Expect(doc.Shapes).To(HaveLen(1))
			Expect(doc.Shapes[0].Label).To(Equal("cat"))
			Expect(doc.Shapes[0].GroupID).To(BeNil())

			r, err := doc.Shapes[0].Rect()
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(Equal(geometry.Rect{X: 200, Y: 200, Width: 100, Height: 100}))
		})

		It("should reject text that is not JSON", func() {
			_, err := labelme.Parse([]byte("not json"))
			Expect(errors.Is(err, labelme.ErrMalformedDocument)).To(BeTrue())
		})

		It("should reject documents without required fields", func() {
			_, err := labelme.Parse([]byte(`{"version": "5.5.0", "shapes": []}`))
			Expect(errors.Is(err, labelme.ErrMalformedDocument)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("imagePath"))
			Expect(err.Error()).To(ContainSubstring("imageWidth"))
		})

		It("should accept a null imageData", func() {
			doc, err := labelme.Parse([]byte(`{"shapes": [], "imagePath": "b.jpg", "imageData": null, "imageHeight": 10, "imageWidth": 20}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.ImageData).To(BeEmpty())
			Expect(doc.Shapes).To(BeEmpty())
		})

		It("should tolerate a byte order mark", func() {
			_, err := labelme.Parse(append([]byte("\xef\xbb\xbf"), expectedDocument...))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("batch documents", func() {
		It("should write and read an array", func() {
			other := sampleDocument()
			other.ImagePath = "b.png"

			data, err := labelme.MarshalAll([]*labelme.Document{sampleDocument(), other})
			Expect(err).NotTo(HaveOccurred())
			Expect(data[0]).To(Equal(byte('[')))

			docs, err := labelme.ParseAll(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].ImagePath).To(Equal("a.png"))
			Expect(docs[1].ImagePath).To(Equal("b.png"))
		})

		It("should treat a single object as a batch of one", func() {
			docs, err := labelme.ParseAll([]byte(expectedDocument))
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
		})

		It("should write an empty array for no documents", func() {
			data, err := labelme.MarshalAll(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("[]"))
		})
	})
})

var _ = Describe("Shape", func() {
	DescribeTable("Rect validation",
		func(points [][]float64, shapeType string, ok bool) {
			s := labelme.Shape{Label: "x", Points: points, ShapeType: shapeType}
			_, err := s.Rect()
			if ok {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(errors.Is(err, labelme.ErrMalformedShape)).To(BeTrue())
			}
		},
		Entry("two points", [][]float64{{0, 0}, {10, 10}}, labelme.ShapeRectangle, true),
		Entry("missing shape type", [][]float64{{0, 0}, {10, 10}}, "", true),
		Entry("no points", nil, labelme.ShapeRectangle, false),
		Entry("one point", [][]float64{{0, 0}}, labelme.ShapeRectangle, false),
		Entry("short coordinate", [][]float64{{0}, {10, 10}}, labelme.ShapeRectangle, false),
		Entry("polygon", [][]float64{{0, 0}, {10, 10}}, "polygon", false),
	)

	It("should normalize inverted corners", func() {
		s := labelme.Shape{Points: [][]float64{{300, 300}, {200, 250}}}
		r, err := s.Rect()
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(Equal(geometry.Rect{X: 200, Y: 250, Width: 100, Height: 50}))
	})

	It("should build top-left first from a negative extent", func() {
		s := labelme.NewRectangle("a", geometry.Rect{X: 100, Y: 100, Width: -50, Height: -20})
		Expect(s.Points).To(Equal([][]float64{{50, 80}, {100, 100}}))
	})
})

var _ = Describe("Data URIs", func() {
	It("should strip the prefix", func() {
		Expect(labelme.StripDataURI("data:image/png;base64,QUJD")).To(Equal("QUJD"))
		Expect(labelme.StripDataURI("QUJD")).To(Equal("QUJD"))
	})

	It("should encode raw bytes", func() {
		Expect(labelme.EncodeDataURI("image/png", []byte("ABC"))).To(Equal("data:image/png;base64,QUJD"))
	})

	DescribeTable("MIME types",
		func(path, mime string) {
			Expect(labelme.MIMEType(path)).To(Equal(mime))
		},
		Entry("jpg", "photo.JPG", "image/jpeg"),
		Entry("png", "a.png", "image/png"),
		Entry("webp", "dir/b.webp", "image/webp"),
		Entry("none", "README", "application/octet-stream"),
	)

	It("should rebuild the document image URI", func() {
		doc := sampleDocument()
		Expect(doc.ImageDataURI()).To(Equal("data:image/png;base64,AAAA"))
	})
})
