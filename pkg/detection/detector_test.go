package detection_test

import (
	"context"
	"errors"
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/detection"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/types"
)

type fakeClient struct {
	reply  string
	err    error
	model  string
	prompt string
	image  string
}

func (f *fakeClient) Query(_ context.Context, model, prompt, imgB64 string) (string, error) {
	f.model, f.prompt, f.image = model, prompt, imgB64
	return f.reply, f.err
}

type fakeBackend struct {
	result *types.DetectionResult
	err    error
}

func (f fakeBackend) Detect(context.Context, image.Image) (*types.DetectionResult, error) {
	return f.result, f.err
}

var _ = Describe("ParseResult", func() {
	It("should parse a fenced reply with comments and trailing commas", func() {
		raw := "```json\n{\n  // found\n  \"objects\": [\n    {\"label\": \"cat\", \"confidence\": 0.9, \"box\": {\"x\": 0.1, \"y\": 0.2, \"w\": 0.3, \"h\": 0.4},},\n  ],\n  \"description\": \"a cat\" /* note */\n}\n```"
		result, err := detection.ParseResult(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Objects).To(HaveLen(1))
		Expect(result.Objects[0].Label).To(Equal("cat"))
		Expect(result.Objects[0].Box).To(Equal(types.Box{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}))
		Expect(result.Description).To(Equal("a cat"))
	})

	It("should accept a bare array", func() {
		result, err := detection.ParseResult(`Here you go: [{"label":"dog","confidence":0.5,"box":{"x":0,"y":0,"w":1,"h":1}}]`)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Objects).To(HaveLen(1))
	})

	It("should reject replies without JSON", func() {
		_, err := detection.ParseResult("I cannot see anything.")
		Expect(errors.Is(err, detection.ErrNoJSON)).To(BeTrue())
	})

	It("should report broken JSON", func() {
		_, err := detection.ParseResult(`{"objects": [1, 2}`)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ModelBackend", func() {
	It("should send a downscaled image with the default prompt", func() {
		client := &fakeClient{reply: `{"objects": []}`}
		backend := detection.NewModelBackend(client, types.ModelOptions{Model: "llava"})

		result, err := backend.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 16)))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Objects).To(BeEmpty())
		Expect(client.model).To(Equal("llava"))
		Expect(client.prompt).To(Equal(detection.DefaultPrompt))
		Expect(client.image).NotTo(BeEmpty())
	})

	It("should pass client errors through", func() {
		boom := errors.New("connection refused")
		backend := detection.NewModelBackend(&fakeClient{err: boom}, types.ModelOptions{})
		_, err := backend.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
		Expect(err).To(MatchError(boom))
	})
})

var _ = Describe("Suggester", func() {
	var col *annotation.Collection

	BeforeEach(func() {
		col = annotation.New(annotation.Image{Filename: "a.png", Width: 800, Height: 600})
		col.Relayout(geometry.Size{Width: 400, Height: 300})
	})

	result := func(objects ...types.Detection) detection.Backend {
		return fakeBackend{result: &types.DetectionResult{Objects: objects}}
	}

	It("should add detections as image-space regions", func() {
		s := detection.NewSuggester(result(
			types.Detection{Label: "cat", Confidence: 0.9, Box: types.Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}},
		))
		regions, err := s.Suggest(context.Background(), col, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(regions).To(HaveLen(1))
		Expect(regions[0].Image()).To(Equal(geometry.Rect{X: 200, Y: 300, Width: 400, Height: 150}))
		Expect(regions[0].Display()).To(Equal(geometry.Rect{X: 100, Y: 150, Width: 200, Height: 75}))
		Expect(regions[0].Label()).To(Equal("cat"))
		Expect(col.Len()).To(Equal(1))
	})

	It("should filter, clamp and order detections", func() {
		s := detection.NewSuggester(result(
			types.Detection{Label: "low", Confidence: 0.1, Box: types.Box{W: 0.1, H: 0.1}},
			types.Detection{Label: "", Confidence: 0.6, Box: types.Box{X: 0.9, Y: 0.9, W: 0.5, H: 0.5}},
			types.Detection{Label: "empty", Confidence: 0.9, Box: types.Box{X: 0.5, Y: 0.5}},
			types.Detection{Label: "high", Confidence: 0.8, Box: types.Box{W: 0.5, H: 0.5}},
			types.Detection{Label: "mid", Confidence: 0.7, Box: types.Box{W: 0.5, H: 0.5}},
		), detection.WithMinConfidence(0.5), detection.WithMaxRegions(2), detection.WithFallbackLabel("unknown"))

		regions, err := s.Suggest(context.Background(), col, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(regions).To(HaveLen(2))
		Expect(regions[0].Label()).To(Equal("high"))
		Expect(regions[1].Label()).To(Equal("mid"))
	})

	It("should clamp boxes to the image and use the fallback label", func() {
		s := detection.NewSuggester(result(
			types.Detection{Confidence: 0.6, Box: types.Box{X: 0.75, Y: 0.5, W: 0.5, H: 0.75}},
		))
		regions, err := s.Suggest(context.Background(), col, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(regions[0].Image()).To(Equal(geometry.Rect{X: 600, Y: 300, Width: 200, Height: 300}))
		Expect(regions[0].Label()).To(Equal(annotation.DefaultRegionLabel))
	})

	It("should require a laid out collection", func() {
		s := detection.NewSuggester(result())
		_, err := s.Suggest(context.Background(), annotation.New(annotation.Image{Width: 1, Height: 1}), nil)
		Expect(errors.Is(err, annotation.ErrNotLaidOut)).To(BeTrue())
	})

	It("should wrap backend errors", func() {
		s := detection.NewSuggester(fakeBackend{err: errors.New("offline")})
		_, err := s.Suggest(context.Background(), col, nil)
		Expect(err).To(MatchError(ContainSubstring("a.png")))
		Expect(col.Len()).To(BeZero())
	})
})

var _ = Describe("ToImageRect", func() {
	It("should scale normalized boxes", func() {
		r := detection.ToImageRect(types.Box{X: 0.5, Y: 0.5, W: 0.25, H: 0.25}, geometry.Size{Width: 100, Height: 40})
		Expect(r).To(Equal(geometry.Rect{X: 50, Y: 20, Width: 25, Height: 10}))
	})
})
