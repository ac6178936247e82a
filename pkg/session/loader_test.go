package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
	"github.com/menta2k/image-annotator/pkg/processing"
)

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))).To(Succeed())
	return buf.Bytes()
}

func fileNames(files []*File) []string {
	return names(Collections(files))
}

var _ = Describe("Loader", func() {
	var dir string

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, data, 0644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should order results by name regardless of completion order", func() {
		delays := map[string]time.Duration{"b": 40 * time.Millisecond, "a": 20 * time.Millisecond, "c": 0}
		ld := NewLoader(viewport)
		ld.load = func(_ context.Context, in string) ([]*File, error) {
			time.Sleep(delays[in])
			return []*File{{Collection: collection(in, 8, 6), Origin: in}}, nil
		}

		files, err := ld.Load(context.Background(), []string{"b", "a", "c"})
		Expect(err).NotTo(HaveOccurred())
		Expect(fileNames(files)).To(Equal([]string{"a", "b", "c"}))
	})

	It("should isolate failures", func() {
		good := write("a.png", pngBytes(800, 600))
		bad := write("b.png", []byte("not an image"))
		missing := filepath.Join(dir, "missing.png")

		files, err := NewLoader(viewport).Load(context.Background(), []string{bad, missing, good})
		Expect(fileNames(files)).To(Equal([]string{"a.png"}))
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, processing.ErrUnsupportedFormat)).To(BeTrue())
		Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())

		var loadErr *LoadError
		Expect(errors.As(err, &loadErr)).To(BeTrue())
		Expect([]string{bad, missing}).To(ContainElement(loadErr.Name))
	})

	It("should lay out loaded images and embed their data", func() {
		path := write("photo.png", pngBytes(800, 600))
		files, err := NewLoader(viewport).Load(context.Background(), []string{path})
		Expect(err).NotTo(HaveOccurred())

		col := files[0].Collection
		Expect(col.Scale()).To(Equal(0.5))
		Expect(col.Image().Width).To(Equal(800))
		Expect(col.Image().Data).To(HavePrefix("data:image/png;base64,"))
		Expect(files[0].Image).NotTo(BeNil())
		Expect(files[0].Origin).To(Equal(path))
	})

	Context("documents", func() {
		var doc *labelme.Document

		BeforeEach(func() {
			doc = labelme.New()
			doc.ImagePath = "photo.png"
			doc.ImageWidth = 800
			doc.ImageHeight = 600
			doc.Shapes = []labelme.Shape{labelme.NewRectangle("cat", geometry.Rect{X: 200, Y: 200, Width: 100, Height: 100})}
		})

		marshal := func(d *labelme.Document) []byte {
			data, err := d.Marshal()
			Expect(err).NotTo(HaveOccurred())
			return data
		}

		It("should import shapes at the viewport scale without selecting", func() {
			doc.ImageData = labelme.StripDataURI(labelme.EncodeDataURI("image/png", pngBytes(800, 600)))
			path := write("photo.json", marshal(doc))

			files, err := NewLoader(viewport).Load(context.Background(), []string{path})
			Expect(err).NotTo(HaveOccurred())
			col := files[0].Collection
			Expect(col.Len()).To(Equal(1))
			Expect(col.Selected()).To(BeNil())
			Expect(col.Regions()[0].Display()).To(Equal(geometry.Rect{X: 100, Y: 100, Width: 50, Height: 50}))
			Expect(col.ExportName()).To(Equal("photo.json"))
			Expect(files[0].Image).NotTo(BeNil())
		})

		It("should fill missing image data from the sibling image", func() {
			write("photo.png", pngBytes(800, 600))
			path := write("labels.json", marshal(doc))

			files, err := NewLoader(viewport).Load(context.Background(), []string{path})
			Expect(err).NotTo(HaveOccurred())
			Expect(files[0].Image).NotTo(BeNil())
			Expect(files[0].Collection.Document().ImageData).NotTo(BeEmpty())
		})

		It("should accept documents without image data or sibling", func() {
			path := write("photo.json", marshal(doc))
			files, err := NewLoader(viewport).Load(context.Background(), []string{path})
			Expect(err).NotTo(HaveOccurred())
			Expect(files[0].Image).To(BeNil())
			Expect(files[0].Collection.Len()).To(Equal(1))
		})

		It("should split a batch file into one file per document", func() {
			other := labelme.New()
			other.ImagePath = "another.jpg"
			other.ImageWidth = 10
			other.ImageHeight = 10
			data, err := labelme.MarshalAll([]*labelme.Document{doc, other})
			Expect(err).NotTo(HaveOccurred())
			path := write("all.json", data)

			files, err := NewLoader(viewport).Load(context.Background(), []string{path})
			Expect(err).NotTo(HaveOccurred())
			Expect(fileNames(files)).To(Equal([]string{"another.jpg", "photo.png"}))
			Expect(files[1].Collection.ExportName()).To(Equal("photo.json"))
		})

		It("should reject malformed documents", func() {
			doc.Shapes[0].Points = [][]float64{{1, 2, 3}, {4, 5}}
			path := write("broken.json", marshal(doc))
			_, err := NewLoader(viewport).Load(context.Background(), []string{path})
			Expect(errors.Is(err, labelme.ErrMalformedShape)).To(BeTrue())
		})

		It("should pass collection options through", func() {
			path := write("photo.json", marshal(doc))
			ld := NewLoader(viewport, WithCollectionOptions(annotation.WithSelectOnImport(true)))
			files, err := ld.Load(context.Background(), []string{path})
			Expect(err).NotTo(HaveOccurred())
			Expect(files[0].Collection.Selected()).NotTo(BeNil())
		})
	})

	It("should stop when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		files, err := NewLoader(viewport).Load(ctx, []string{write("a.png", pngBytes(1, 1))})
		Expect(files).To(BeEmpty())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("should hand loaded files to a session", func() {
		a := write("b.png", pngBytes(8, 6))
		b := write("a.png", pngBytes(8, 6))
		files, err := NewLoader(viewport).Load(context.Background(), []string{a, b})
		Expect(err).NotTo(HaveOccurred())

		s := New(WithViewport(viewport))
		s.Add(Collections(files)...)
		Expect(names(s.Files())).To(Equal(fileNames(files)))
	})
})
