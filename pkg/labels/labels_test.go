package labels_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/menta2k/image-annotator/pkg/labels"
)

const menu = "料理コード,お客様向け名称,価格\n" +
	"A01,カレー,800\n" +
	"A02,,700\n" +
	"\n" +
	" ,空,0\n" +
	"A01,ラーメン,900\n" +
	"A01,カレー,800\n" +
	"A03,\"寿司, 特上\",2000\n" +
	"short\n"

var _ = Describe("Table", func() {
	parse := func(s string) (*labels.Table, error) {
		return labels.Parse(strings.NewReader(s), labels.DefaultColumns())
	}

	Context("with a valid table", func() {
		var table *labels.Table

		BeforeEach(func() {
			var err error
			table, err = parse(menu)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep usable rows in file order", func() {
			Expect(table.Entries()).To(Equal([]labels.Entry{
				{Code: "A01", Name: "カレー"},
				{Code: "A02", Name: "A02"},
				{Code: "A03", Name: "寿司, 特上"},
			}))
		})

		It("should keep the first name of a repeated code", func() {
			Expect(table.Resolve("A01")).To(Equal("カレー"))
			dups := table.Duplicates()
			Expect(dups).To(HaveLen(1))
			Expect(dups[0].Code).To(Equal("A01"))
			Expect(dups[0].Ignored).To(Equal("ラーメン"))
			Expect(dups[0].String()).To(ContainSubstring("A01"))
		})

		It("should resolve unknown codes to themselves", func() {
			Expect(table.Resolve("Z99")).To(Equal("Z99"))
		})

		It("should bind digit keys to the first entries", func() {
			e, ok := table.Hotkey(3)
			Expect(ok).To(BeTrue())
			Expect(e.Code).To(Equal("A03"))

			_, ok = table.Hotkey(4)
			Expect(ok).To(BeFalse())
			_, ok = table.Hotkey(0)
			Expect(ok).To(BeFalse())
		})
	})

	It("should strip a byte order mark and trim header cells", func() {
		table, err := parse("\xef\xbb\xbf 料理コード , お客様向け名称 \r\nB1,うどん\r\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Resolve("B1")).To(Equal("うどん"))
	})

	It("should honour custom columns", func() {
		table, err := labels.Parse(strings.NewReader("id,name\nx,Ex\n"), labels.Columns{Code: "id", Name: "name"})
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Len()).To(Equal(1))
	})

	DescribeTable("rejecting tables",
		func(input string, want error) {
			_, err := parse(input)
			Expect(err).To(MatchError(want))
		},
		Entry("empty input", "", labels.ErrEmptyTable),
		Entry("only blank lines", "\n\n", labels.ErrEmptyTable),
		Entry("missing name column", "料理コード\nA01\n", labels.ErrMissingColumns),
		Entry("no usable rows", "料理コード,お客様向け名称\n,x\n", labels.ErrNoEntries),
	)

	It("should load from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "menu.csv")
		Expect(os.WriteFile(path, []byte(menu), 0644)).To(Succeed())
		table, err := labels.LoadFile(path, labels.DefaultColumns())
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Len()).To(Equal(3))
	})

	It("should be usable when nil", func() {
		var table *labels.Table
		Expect(table.Resolve("A01")).To(Equal("A01"))
		Expect(table.Len()).To(BeZero())
	})

	DescribeTable("FormatListItem",
		func(e labels.Entry, want string) {
			Expect(labels.FormatListItem(e)).To(Equal(want))
		},
		Entry("name and code", labels.Entry{Code: "A01", Name: "カレー"}, "カレー (A01)"),
		Entry("name equals code", labels.Entry{Code: "A02", Name: "A02"}, "A02"),
		Entry("no name", labels.Entry{Code: "A03"}, "A03"),
	)
})
