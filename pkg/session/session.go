// Package session holds the ordered list of images being annotated and the
// cursor over it, and loads images and documents into collections.
package session

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
	"github.com/menta2k/image-annotator/pkg/logger"
)

// Session is the explicit state of an annotation run: every file's
// collection in filename order and the index of the current one.
// It is not safe for concurrent use.
type Session struct {
	files    []*annotation.Collection
	index    int
	viewport geometry.Size
	resolve  annotation.LabelResolver
	order    *collate.Collator
	log      *logger.Logger
}

// Export is one file's document and the name to write it under
type Export struct {
	Name     string
	Document *labelme.Document
}

// Option configures a Session
type Option func(*Session)

// WithViewport sets the container size files are laid out for
func WithViewport(size geometry.Size) Option {
	return func(s *Session) { s.viewport = size }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithLabelResolver sets the resolver applied to every added file
func WithLabelResolver(fn annotation.LabelResolver) Option {
	return func(s *Session) { s.resolve = fn }
}

// WithCollator replaces the filename ordering
func WithCollator(c *collate.Collator) Option {
	return func(s *Session) { s.order = c }
}

// NewCollator returns the default filename ordering: locale-independent
// collation, with numeric runs compared by value when numeric is set
func NewCollator(numeric bool) *collate.Collator {
	if numeric {
		return collate.New(language.Und, collate.Numeric)
	}
	return collate.New(language.Und)
}

// New creates an empty session
func New(opts ...Option) *Session {
	s := &Session{
		order: NewCollator(false),
		log:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends collections and re-sorts all files by filename. The current
// file stays current; files without a display scale are laid out for the
// session viewport. A collection already in the session is not added again.
func (s *Session) Add(cols ...*annotation.Collection) {
	current := s.Current()
	for _, c := range cols {
		if c == nil || s.contains(c) {
			continue
		}
		if s.resolve != nil {
			c.SetLabelResolver(s.resolve)
		}
		if !c.Transform().Valid() && !s.viewport.Empty() {
			c.Relayout(s.viewport)
		}
		s.files = append(s.files, c)
	}
	sortCollections(s.order, s.files)

	s.index = 0
	for i, c := range s.files {
		if c == current {
			s.index = i
			break
		}
	}
	s.log.Debug("session has %d files, current %d", len(s.files), s.index)
}

func (s *Session) contains(c *annotation.Collection) bool {
	for _, f := range s.files {
		if f == c {
			return true
		}
	}
	return false
}

// sortCollections orders collections by image filename. The sort is stable
// so equal names keep their load order.
func sortCollections(order *collate.Collator, cols []*annotation.Collection) {
	sort.SliceStable(cols, func(i, j int) bool {
		return order.CompareString(cols[i].Filename(), cols[j].Filename()) < 0
	})
}

// Current returns the current file, or nil when the session is empty
func (s *Session) Current() *annotation.Collection {
	if len(s.files) == 0 {
		return nil
	}
	return s.files[s.index]
}

// Index returns the current position
func (s *Session) Index() int { return s.index }

// Len returns the number of files
func (s *Session) Len() int { return len(s.files) }

// Files returns every file in order
func (s *Session) Files() []*annotation.Collection {
	return append([]*annotation.Collection(nil), s.files...)
}

// Viewport returns the container size files are laid out for
func (s *Session) Viewport() geometry.Size { return s.viewport }

// Next moves to the following file. With carry set, copies of the current
// file's regions are added to the next file, keeping their image-space
// geometry. At the last file nothing happens.
func (s *Session) Next(carry bool) *annotation.Collection {
	if s.index >= len(s.files)-1 {
		return s.Current()
	}
	prev := s.Current()
	var clones []*annotation.Region
	if carry {
		clones = prev.CloneRegions()
	}
	s.show(s.index + 1)
	if len(clones) > 0 {
		s.Current().Adopt(clones...)
		s.log.Debug("carried %d regions from %s to %s", len(clones), prev.Filename(), s.Current().Filename())
	}
	return s.Current()
}

// Prev moves to the preceding file; at the first file nothing happens
func (s *Session) Prev() *annotation.Collection {
	if s.index == 0 {
		return s.Current()
	}
	s.show(s.index - 1)
	return s.Current()
}

// Goto moves to file i, clamped to the valid range
func (s *Session) Goto(i int) *annotation.Collection {
	if len(s.files) == 0 {
		return nil
	}
	i = max(0, min(i, len(s.files)-1))
	if i != s.index {
		s.show(i)
	}
	return s.Current()
}

// show hides the current file's regions and lays out file i
func (s *Session) show(i int) {
	if cur := s.Current(); cur != nil {
		cur.Hide()
	}
	s.index = i
	if !s.viewport.Empty() {
		s.Current().Relayout(s.viewport)
	} else {
		s.Current().RefreshLabels()
	}
}

// Reset drops every file
func (s *Session) Reset() {
	for _, c := range s.files {
		c.Hide()
	}
	s.files = nil
	s.index = 0
}

// SetViewport records a new container size without laying anything out
func (s *Session) SetViewport(size geometry.Size) {
	s.viewport = size
}

// Resize records a new container size and re-lays out the current file.
// Other files are laid out when they become current.
func (s *Session) Resize(size geometry.Size) geometry.Transform {
	s.viewport = size
	cur := s.Current()
	if cur == nil {
		return geometry.Transform{}
	}
	return cur.Relayout(size)
}

// ClearCurrent removes every region of the current file
func (s *Session) ClearCurrent() {
	if cur := s.Current(); cur != nil {
		cur.Clear()
	}
}

// LabelSelected sets the label of the current file's selected region.
// It reports false when nothing is selected.
func (s *Session) LabelSelected(label string) bool {
	cur := s.Current()
	if cur == nil || cur.Selected() == nil {
		return false
	}
	cur.Selected().SetValues(annotation.Label(label))
	return true
}

// SetLabelResolver applies fn to every file and redraws their labels
func (s *Session) SetLabelResolver(fn annotation.LabelResolver) {
	s.resolve = fn
	for _, c := range s.files {
		c.SetLabelResolver(fn)
	}
}

// Export returns the current file's document, or false when the session is empty
func (s *Session) Export() (Export, bool) {
	cur := s.Current()
	if cur == nil {
		return Export{}, false
	}
	return Export{Name: cur.ExportName(), Document: cur.Document()}, true
}

// ExportAll returns the documents of every file that has regions, in file order
func (s *Session) ExportAll() []Export {
	var out []Export
	for _, c := range s.files {
		if c.Len() == 0 {
			continue
		}
		out = append(out, Export{Name: c.ExportName(), Document: c.Document()})
	}
	return out
}

// Documents returns the documents of ExportAll, for a single batch file
func Documents(exports []Export) []*labelme.Document {
	docs := make([]*labelme.Document, len(exports))
	for i, e := range exports {
		docs[i] = e.Document
	}
	return docs
}
