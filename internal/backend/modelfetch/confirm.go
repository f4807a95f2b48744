package modelfetch

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// maxConfirmations bounds how many interstitial pages are followed.
	maxConfirmations = 2
	maxPageBytes     = 1 << 20
	downloadLinkID   = "uc-download-link"
)

var errNoConfirmation = errors.New("page has no download confirmation")

// confirmationURL extracts the follow-up request from a file host's
// "download anyway" page: a GET form with hidden inputs, or a download link.
func confirmationURL(resp *http.Response) (string, error) {
	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}

	var form, link *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case n.DataAtom == atom.Form && form == nil && isGetForm(n):
			form = n
		case n.DataAtom == atom.A && link == nil && attr(n, "id") == downloadLinkID:
			link = n
		}
		return form == nil
	})

	base := resp.Request.URL
	switch {
	case form != nil:
		target, err := base.Parse(attr(form, "action"))
		if err != nil {
			return "", err
		}
		query := target.Query()
		hidden := 0
		walk(form, func(n *html.Node) bool {
			if n.Type == html.ElementNode && n.DataAtom == atom.Input &&
				strings.EqualFold(attr(n, "type"), "hidden") && attr(n, "name") != "" {
				query.Set(attr(n, "name"), attr(n, "value"))
				hidden++
			}
			return true
		})
		if hidden == 0 {
			return "", errNoConfirmation
		}
		target.RawQuery = query.Encode()
		return target.String(), nil
	case link != nil && attr(link, "href") != "":
		target, err := base.Parse(attr(link, "href"))
		if err != nil {
			return "", err
		}
		return target.String(), nil
	default:
		return "", errNoConfirmation
	}
}

func isGetForm(n *html.Node) bool {
	method := attr(n, "method")
	return method == "" || strings.EqualFold(method, http.MethodGet)
}

// walk visits n and its descendants depth first while visit returns true.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
