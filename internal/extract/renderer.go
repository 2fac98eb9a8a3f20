package extract

import "context"

// BridgeFunc receives the values a script reports; absent values are nil
type BridgeFunc func(args []*string)

// Renderer is a page renderer that can run extraction scripts. Results are
// never returned directly: scripts report through a bound bridge function.
type Renderer interface {
	// Bind exposes fn to scripts under name.
	Bind(name string, fn BridgeFunc) error
	// LoadURL starts loading url and calls onPageFinished once it has loaded
	// or failed.
	LoadURL(ctx context.Context, url string, onPageFinished func(err error)) error
	// EvaluateScript runs script against the loaded page.
	EvaluateScript(ctx context.Context, script *Script) error
	Close() error
}
