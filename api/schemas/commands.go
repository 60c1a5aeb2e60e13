package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Command names the operation a driver asks the bridge to perform.
type Command string

const (
	CommandSetNotificationPermission    Command = "SET_NOTIFICATION_PERMISSION"
	CommandSetPopupPermission           Command = "SET_POPUP_PERMISSION"
	CommandCreateBrowserTab             Command = "CREATE_BROWSER_TAB"
	CommandExecuteScript                Command = "EXECUTE_SCRIPT"
	CommandAcceptHTTPSubscriptionPopup  Command = "ACCEPT_HTTP_SUBSCRIPTION_POPUP"
	CommandAcceptHTTPSSubscriptionModal Command = "ACCEPT_HTTPS_SUBSCRIPTION_MODAL"
	CommandGet                          Command = "GET"
	CommandSet                          Command = "SET"
)

// AllCommands lists every command the dispatcher understands, in documentation order.
var AllCommands = []Command{
	CommandSetNotificationPermission,
	CommandSetPopupPermission,
	CommandCreateBrowserTab,
	CommandExecuteScript,
	CommandAcceptHTTPSubscriptionPopup,
	CommandAcceptHTTPSSubscriptionModal,
	CommandGet,
	CommandSet,
}

func (c Command) String() string { return string(c) }

// Known reports whether c is one of AllCommands.
func (c Command) Known() bool {
	for _, k := range AllCommands {
		if c == k {
			return true
		}
	}
	return false
}

// Request is the flat envelope a driver sends. Only the fields relevant to
// Command are read; the rest are ignored.
type Request struct {
	Command Command `json:"command"`

	// SET_NOTIFICATION_PERMISSION / SET_POPUP_PERMISSION
	SiteURL    string `json:"siteUrl,omitempty"`
	Permission string `json:"permission,omitempty"`

	// CREATE_BROWSER_TAB
	URL    string `json:"url,omitempty"`
	Active *bool  `json:"active,omitempty"`

	// EXECUTE_SCRIPT
	Code      string `json:"code,omitempty"`
	TabID     TabID  `json:"tabId,omitempty"`
	AllFrames bool   `json:"allFrames,omitempty"`

	// ACCEPT_HTTPS_SUBSCRIPTION_MODAL
	ParentTabURL string `json:"parentTabUrl,omitempty"`

	// GET / SET
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Response is the single reply produced for a request.
type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// UnmarshalJSON keeps an explicit "value": null as the literal null so a SET
// can store it. Decoders otherwise collapse it to an absent value.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := keepNull(data, "value", &p.Value); err != nil {
		return err
	}
	*r = Request(p)
	return nil
}

// UnmarshalJSON keeps an explicit "result": null, as for Request.Value.
func (r *Response) UnmarshalJSON(data []byte) error {
	type plain Response
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := keepNull(data, "result", &p.Result); err != nil {
		return err
	}
	*r = Response(p)
	return nil
}

// keepNull sets *dst to the literal null when the object in data carries key
// with a null value.
func keepNull(data []byte, key string, dst *json.RawMessage) error {
	if len(*dst) > 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if v, ok := fields[key]; ok && bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		*dst = json.RawMessage("null")
	}
	return nil
}

// OK builds a successful response. A nil result is omitted on the wire.
func OK(result json.RawMessage) Response {
	return Response{Success: true, Result: result}
}

// Fail builds a failed response carrying the error's message.
func Fail(err error) Response {
	if err == nil {
		return Response{Success: false}
	}
	return Response{Success: false, Error: err.Error()}
}

// TabID identifies a browser tab. Drivers send it either as a JSON number or
// a string; both are kept in their textual form. The zero value, "0", and an
// absent field all mean the currently focused tab.
type TabID string

// CurrentTab is the explicit spelling of "whatever tab is focused".
const CurrentTab TabID = ""

// IsCurrent reports whether id refers to the current tab.
func (id TabID) IsCurrent() bool {
	return id == CurrentTab || id == "0"
}

func (id TabID) String() string {
	if id.IsCurrent() {
		return "current"
	}
	return string(id)
}

// UnmarshalJSON accepts numbers, strings and null.
func (id *TabID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = CurrentTab
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("tab id: %w", err)
		}
		*id = TabID(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("tab id must be a number or string: %w", err)
		}
		*id = TabID(n.String())
		return nil
	}
}
