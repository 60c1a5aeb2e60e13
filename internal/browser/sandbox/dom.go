package sandbox

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/html"
)

// domBinding exposes one frame's document to a VM. The caller holds f.mu for
// the VM's whole lifetime.
type domBinding struct {
	vm     *goja.Runtime
	frame  *frame
	logger *zap.Logger
}

func bindDocument(vm *goja.Runtime, f *frame, logger *zap.Logger) {
	b := &domBinding{vm: vm, frame: f, logger: logger}

	location := vm.NewObject()
	_ = location.Set("href", f.url)
	_ = location.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(f.url) })

	document := vm.NewObject()
	_ = document.Set("readyState", "complete")
	_ = document.Set("title", documentTitle(f.root))
	_ = document.Set("location", location)
	_ = document.Set("getElementById", b.getElementByID)
	_ = document.Set("querySelector", b.querySelector)
	_ = document.Set("querySelectorAll", b.querySelectorAll)
	_ = document.Set("body", b.wrap(htmlquery.FindOne(f.root, "//body")))

	global := vm.GlobalObject()
	_ = global.Set("window", global)
	_ = global.Set("self", global)
	_ = global.Set("document", document)
	_ = global.Set("location", location)
	b.bindConsole(global)
}

func (b *domBinding) getElementByID(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	if strings.Contains(id, "'") {
		return goja.Null()
	}
	return b.wrap(htmlquery.FindOne(b.frame.root, idXPath(id)))
}

func (b *domBinding) querySelector(call goja.FunctionCall) goja.Value {
	nodes := b.query(call.Argument(0).String())
	if len(nodes) == 0 {
		return goja.Null()
	}
	return b.wrap(nodes[0])
}

func (b *domBinding) querySelectorAll(call goja.FunctionCall) goja.Value {
	nodes := b.query(call.Argument(0).String())
	wrapped := make([]interface{}, len(nodes))
	for i, n := range nodes {
		wrapped[i] = b.wrap(n)
	}
	return b.vm.NewArray(wrapped...)
}

func (b *domBinding) query(selector string) []*html.Node {
	nodes, err := htmlquery.QueryAll(b.frame.root, selectorToXPath(selector))
	if err != nil {
		panic(b.vm.NewGoError(fmt.Errorf("'%s' is not a valid selector", selector)))
	}
	return nodes
}

// wrap builds the element view scripts see. Elements are re-wrapped on every
// lookup; identity comparisons between lookups do not hold.
func (b *domBinding) wrap(node *html.Node) goja.Value {
	if node == nil {
		return goja.Null()
	}
	el := b.vm.NewObject()
	_ = el.Set("id", htmlquery.SelectAttr(node, "id"))
	_ = el.Set("tagName", strings.ToUpper(node.Data))
	_ = el.Set("className", htmlquery.SelectAttr(node, "class"))
	_ = el.Set("style", b.style(node))

	textContent := b.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return b.vm.ToValue(htmlquery.InnerText(node))
	})
	if err := el.DefineAccessorProperty("textContent", textContent, goja.Undefined(), goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		b.logger.Error("Failed to define textContent.", zap.Error(err))
	}

	_ = el.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		for _, a := range node.Attr {
			if a.Key == name {
				return b.vm.ToValue(a.Val)
			}
		}
		return goja.Null()
	})
	_ = el.Set("click", func(goja.FunctionCall) goja.Value {
		b.frame.clicks[node]++
		b.logger.Debug("Element clicked.", zap.String("tag", node.Data), zap.String("id", htmlquery.SelectAttr(node, "id")))
		return goja.Undefined()
	})
	return el
}

// style exposes the inline style declarations with camelCased names. Unset
// properties read as the empty string, as they do in a browser.
func (b *domBinding) style(node *html.Node) *goja.Object {
	style := b.vm.NewObject()
	_ = style.Set("display", "")
	for _, decl := range strings.Split(htmlquery.SelectAttr(node, "style"), ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		_ = style.Set(camelCase(strings.TrimSpace(name)), strings.TrimSpace(value))
	}
	return style
}

// bindConsole routes console output to the logger.
func (b *domBinding) bindConsole(global *goja.Object) {
	console := b.vm.NewObject()
	logFunc := func(level zapcore.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.String()
			}
			b.logger.Log(level, "[JS Console]", zap.String("message", strings.Join(args, " ")))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logFunc(zap.InfoLevel))
	_ = console.Set("info", logFunc(zap.InfoLevel))
	_ = console.Set("warn", logFunc(zap.WarnLevel))
	_ = console.Set("error", logFunc(zap.ErrorLevel))
	_ = console.Set("debug", logFunc(zap.DebugLevel))
	_ = global.Set("console", console)
}

// -- Helpers --

func idXPath(id string) string {
	return fmt.Sprintf("//*[@id='%s']", id)
}

// selectorToXPath translates compound selectors made of tag names, #ids and
// .classes joined by descendant combinators. Anything starting with '/' or
// '(' is taken as XPath already.
func selectorToXPath(css string) string {
	css = strings.TrimSpace(css)
	if strings.HasPrefix(css, "/") || strings.HasPrefix(css, "(") {
		return css
	}

	var xpath strings.Builder
	for _, part := range strings.Fields(css) {
		xpath.WriteString("//")
		tag := "*"
		var predicates []string

		for part != "" {
			end := strings.IndexAny(part[1:], ".#") + 1
			if end == 0 {
				end = len(part)
			}
			token := part[:end]
			part = part[end:]

			switch token[0] {
			case '#':
				predicates = append(predicates, fmt.Sprintf("@id='%s'", token[1:]))
			case '.':
				predicates = append(predicates, fmt.Sprintf("contains(concat(' ', normalize-space(@class), ' '), ' %s ')", token[1:]))
			default:
				tag = token
			}
		}

		xpath.WriteString(tag)
		if len(predicates) > 0 {
			xpath.WriteString("[" + strings.Join(predicates, " and ") + "]")
		}
	}
	return xpath.String()
}

func camelCase(property string) string {
	parts := strings.Split(strings.ToLower(property), "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
