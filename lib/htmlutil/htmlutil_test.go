package htmlutil

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCollapseWhitespace(t *testing.T) {
	cases := []struct {
		in     string
		expect string
	}{
		{in: "  08/17\n\t(Sun) ", expect: "08/17 (Sun)"},
		{in: "府中　試験場", expect: "府中 試験場"},
		{in: "\n\n", expect: ""},
		{in: "予約可能", expect: "予約可能"},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, CollapseWhitespace(test.in))
	}
}

func TestCleanText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<table><tr><td><span>08/17<br>(Sun)</span></td><td>  a  <b>b</b>
		c</td></tr></table>`,
	))
	require.Nil(t, err)

	cells := doc.Find("td")
	require.Equal(t, "08/17(Sun)", CleanText(cells.Eq(0)))
	require.Equal(t, "a b c", CleanText(cells.Eq(1)))
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<a href="/reserve/detail?date=20250821">  予約
		する </a>
		<a href="#">skip</a>
		<a href="javascript:void(0)">skip</a>
		<a>no href</a>
	`))
	require.Nil(t, err)

	base, err := url.Parse("https://example.com/keishicho-u/offerList_detail")
	require.Nil(t, err)

	anchors := GetAnchors(context.Background(), doc.Find("a"), base)
	require.Equal(t, []Anchor{{
		Name: "予約 する",
		Href: "https://example.com/reserve/detail?date=20250821",
	}}, anchors)
}
