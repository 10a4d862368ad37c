// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rcfmt converts Moodle HTML to Rocket.Chat markdown.
package rcfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Moodle's editors attach attributes (dir, style, class) to most tags, so
// every opening tag pattern tolerates them.
var (
	strongRe     = regexp.MustCompile(`(?s)<(?:strong|b)(?:\s[^>]*)?>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`(?s)<(?:em|i)(?:\s[^>]*)?>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`(?s)<(?:del|s|strike)(?:\s[^>]*)?>(.*?)</(?:del|s|strike)>`)
	codeRe       = regexp.MustCompile(`(?s)<code(?:\s[^>]*)?>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre(?:\s[^>]*)?>(?:<code(?:\s[^>]*)?>)?(.*?)(?:</code>)?</pre>`)
	linkRe       = regexp.MustCompile(`(?s)<a\s[^>]*?href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote(?:\s[^>]*)?>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6](?:\s[^>]*)?>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul(?:\s[^>]*)?>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol(?:\s[^>]*)?>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li(?:\s[^>]*)?>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<(?:p|div)(?:\s[^>]*)?>(.*?)</(?:p|div)>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Parse converts Moodle HTML to Rocket.Chat markdown. Plain text passes
// through with entities unescaped.
func Parse(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// Code blocks first (preserve content inside).
	text = preRe.ReplaceAllString(text, "```\n$1\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	// Inline formatting.
	text = strongRe.ReplaceAllString(text, "*$1*")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~$1~")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], strings.TrimSpace(tagRe.ReplaceAllString(parts[2], ""))
		if label == "" || label == href {
			return href
		}
		return "[" + label + "](" + href + ")"
	})

	// Rocket.Chat has no heading syntax in messages.
	text = headingRe.ReplaceAllString(text, "*$1*\n\n")

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := pRe.ReplaceAllString(parts[1], "$1\n")
		inner = brRe.ReplaceAllString(inner, "\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n") + "\n\n"
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n\n"
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n\n"
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")

	// Strip remaining HTML tags.
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
