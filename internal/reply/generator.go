// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reply

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Rule maps a keyword to a canned reply. Respond, when set, builds the reply
// at call time instead of Text.
type Rule struct {
	Keyword string
	Text    string
	Respond func(now time.Time) string
}

func (r Rule) reply(now time.Time) string {
	if r.Respond != nil {
		return r.Respond(now)
	}
	return r.Text
}

// DefaultRules is the built-in keyword table, checked in order.
var DefaultRules = []Rule{
	// Greetings
	{Keyword: "hello", Text: "你好！我是 ChatGPT，很高兴为您服务！有什么我可以帮助您的吗？"},
	{Keyword: "hi", Text: "嗨！很高兴见到您！有什么问题想要咨询吗？"},
	{Keyword: "你好", Text: "您好！我是 AI 助手，请问有什么可以帮助您的？"},
	{Keyword: "早上好", Text: "早上好！希望您今天过得愉快！"},
	{Keyword: "晚上好", Text: "晚上好！今天过得怎么样？"},

	// Common questions
	{Keyword: "你是谁", Text: "我是 ChatGPT，一个 AI 语言模型，旨在帮助用户回答问题和提供有用的信息。"},
	{Keyword: "你能做什么", Text: "我可以回答问题、协助写作、解释概念、提供建议，以及进行各种对话。请告诉我您需要什么帮助！"},
	{Keyword: "谢谢", Text: "不客气！很高兴能够帮助您。还有其他问题吗？"},
	{Keyword: "thank you", Text: "You're welcome! I'm here to help whenever you need assistance."},

	// Technology
	{Keyword: "javascript", Text: "JavaScript 是一种强大的编程语言，主要用于网页开发。您想了解 JavaScript 的什么方面？"},
	{Keyword: "python", Text: "Python 是一种简洁易学的编程语言，广泛用于数据科学、Web 开发和自动化。"},
	{Keyword: "react", Text: "React 是一个用于构建用户界面的 JavaScript 库，特别适合构建现代 Web 应用程序。"},
	{Keyword: "node", Text: "Node.js 让您可以在服务器端运行 JavaScript，是构建现代 Web 应用后端的热门选择。"},

	// Everyday
	{Keyword: "天气", Text: "我无法获取实时天气信息，建议您查看当地天气预报应用或网站。"},
	{Keyword: "时间", Respond: func(now time.Time) string {
		return "当前服务器时间是：" + now.Format("2006/1/2 15:04:05")
	}},
	{Keyword: "今天", Text: "今天是美好的一天！有什么特别想要了解或讨论的吗？"},

	// Support
	{Keyword: "累了", Text: "听起来您有些疲惫。记得适当休息，保持身心健康很重要。"},
	{Keyword: "开心", Text: "很高兴听到您心情不错！保持积极的心态对生活很有帮助。"},
	{Keyword: "难过", Text: "我理解您的感受。每个人都会有低落的时候，这是很正常的。如果需要聊聊，我在这里。"},
}

// DefaultFallbacks are used when no keyword matches.
var DefaultFallbacks = []string{
	"这是一个很有趣的问题！让我想想如何最好地回答您。",
	"感谢您的提问。基于您说的内容，我认为这个话题很值得深入讨论。",
	"您提到的这个点很重要。能否提供更多详细信息，让我更好地帮助您？",
	"这确实是个值得思考的问题。您希望我从哪个角度来分析呢？",
	"我理解您的观点。关于这个话题，还有什么特别想了解的方面吗？",
	"您的想法很有见地！我很乐意继续这个对话。",
}

// Generator answers messages from a keyword table.
//
// Matching runs on the NFKC-normalized, case-folded, trimmed message: an
// exact keyword match wins, then the first keyword contained in the message,
// then a random fallback followed by a quote of the original message.
type Generator struct {
	rules     []Rule
	fallbacks []string
	now       func() time.Time

	mu   sync.Mutex
	rand *rand.Rand
}

// NewGenerator creates a generator with the default tables.
func NewGenerator() *Generator {
	return &Generator{
		rules:     DefaultRules,
		fallbacks: DefaultFallbacks,
		now:       time.Now,
		rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// WithRules replaces the keyword table.
func (g *Generator) WithRules(rules []Rule) *Generator {
	g.rules = rules
	return g
}

// WithFallbacks replaces the generic replies. An empty list keeps the
// current ones.
func (g *Generator) WithFallbacks(fallbacks []string) *Generator {
	if len(fallbacks) > 0 {
		g.fallbacks = fallbacks
	}
	return g
}

// WithSeed makes fallback selection deterministic.
func (g *Generator) WithSeed(seed uint64) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return g
}

// WithClock sets the time source used by time-dependent rules.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns the reply for message.
func (g *Generator) Generate(message string) string {
	key := Normalize(message)
	now := g.now()

	for _, r := range g.rules {
		if key == Normalize(r.Keyword) {
			return r.reply(now)
		}
	}
	for _, r := range g.rules {
		if strings.Contains(key, Normalize(r.Keyword)) {
			return r.reply(now)
		}
	}

	g.mu.Lock()
	pick := g.fallbacks[g.rand.IntN(len(g.fallbacks))]
	g.mu.Unlock()

	return pick + "\n\n您刚才说的是：\"" + message + "\""
}

// Normalize prepares text for keyword matching: NFKC normalization (so
// full-width and compatibility forms match their plain equivalents), Unicode
// case folding and whitespace trimming.
func Normalize(s string) string {
	// Casers carry state, so each call gets its own.
	return strings.TrimSpace(cases.Fold().String(norm.NFKC.String(s)))
}
