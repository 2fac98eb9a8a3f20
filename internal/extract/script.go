package extract

import (
	"encoding/json"
	"fmt"
)

// BridgeName is the global function the extraction script reports through
const BridgeName = "__streamsaverBridge"

// tokenField is the bridge argument carrying the extraction token
const tokenField = 4

// Script is an extraction script: JS source for renderers that run a real
// page, plus the chain it was generated from for renderers that do not.
// Token identifies the extraction the script belongs to and is echoed back
// as the last bridge argument.
type Script struct {
	Source string
	Chain  *Chain
	Bridge string
	Token  string

	chainJSON []byte
}

// scriptTemplate reports [videoUrl, thumbnail, caption, username, token] as
// a JSON array through the bridge. Each field takes the first non-empty value.
const scriptTemplate = `() => {
  const chain = %s;
  const read = (el, sel) => {
    if (sel.attr === 'text') return el.textContent;
    if (sel.attr in el && typeof el[sel.attr] === 'string') return el[sel.attr];
    return el.getAttribute(sel.attr);
  };
  const pick = (selectors) => {
    for (const sel of selectors || []) {
      let el = null;
      try { el = document.querySelector(sel.css); } catch (e) { continue; }
      if (!el) continue;
      let v = read(el, sel);
      if (v && sel.pattern) {
        const m = String(v).match(new RegExp(sel.pattern));
        v = m ? (m[1] !== undefined ? m[1] : m[0]) : null;
      }
      if (v) return String(v);
    }
    return null;
  };
  const out = [pick(chain.video_url), pick(chain.thumbnail), pick(chain.caption), pick(chain.username), %q];
  window[%q](JSON.stringify(out));
}`

// NewScript generates the extraction script for chain
func NewScript(chain *Chain, bridge string) (*Script, error) {
	data, err := json.Marshal(chain)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selector chain: %w", err)
	}
	s := &Script{Chain: chain, Bridge: bridge, chainJSON: data}
	s.Source = s.render()
	return s, nil
}

// WithToken returns a copy of s that reports token
func (s *Script) WithToken(token string) *Script {
	c := *s
	c.Token = token
	c.Source = c.render()
	return &c
}

func (s *Script) render() string {
	return fmt.Sprintf(scriptTemplate, s.chainJSON, s.Token, s.Bridge)
}

// withToken pads args to the chain fields and appends token
func withToken(args []*string, token string) []*string {
	out := make([]*string, tokenField+1)
	copy(out, args)
	out[tokenField] = &token
	return out
}

// decodeBridgePayload reads the JSON array the script sends
func decodeBridgePayload(payload string) ([]*string, error) {
	var args []*string
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return nil, fmt.Errorf("bad bridge payload: %w", err)
	}
	return args, nil
}
