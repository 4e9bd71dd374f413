package platform

import (
	"fmt"
	"strings"

	"github.com/fmueller/voxkey/internal/apperr"
)

// keyCodes holds one key's code in each platform's numbering. A zero
// darwin code means macOS has no such key.
type keyCodes struct {
	evdev   uint16
	x11     uint16
	darwin  uint16
	windows uint16
}

var keyTable = map[string]keyCodes{
	"ctrl_l":       {evdev: 29, x11: 0xffe3, darwin: 0x3b, windows: 0xa2},
	"ctrl_r":       {evdev: 97, x11: 0xffe4, darwin: 0x3e, windows: 0xa3},
	"shift_l":      {evdev: 42, x11: 0xffe1, darwin: 0x38, windows: 0xa0},
	"shift_r":      {evdev: 54, x11: 0xffe2, darwin: 0x3c, windows: 0xa1},
	"alt_l":        {evdev: 56, x11: 0xffe9, darwin: 0x3a, windows: 0xa4},
	"alt_r":        {evdev: 100, x11: 0xffea, darwin: 0x3d, windows: 0xa5},
	"super_l":      {evdev: 125, x11: 0xffeb, darwin: 0x37, windows: 0x5b},
	"super_r":      {evdev: 126, x11: 0xffec, darwin: 0x36, windows: 0x5c},
	"f1":           {evdev: 59, x11: 0xffbe, darwin: 0x7a, windows: 0x70},
	"f2":           {evdev: 60, x11: 0xffbf, darwin: 0x78, windows: 0x71},
	"f3":           {evdev: 61, x11: 0xffc0, darwin: 0x63, windows: 0x72},
	"f4":           {evdev: 62, x11: 0xffc1, darwin: 0x76, windows: 0x73},
	"f5":           {evdev: 63, x11: 0xffc2, darwin: 0x60, windows: 0x74},
	"f6":           {evdev: 64, x11: 0xffc3, darwin: 0x61, windows: 0x75},
	"f7":           {evdev: 65, x11: 0xffc4, darwin: 0x62, windows: 0x76},
	"f8":           {evdev: 66, x11: 0xffc5, darwin: 0x64, windows: 0x77},
	"f9":           {evdev: 67, x11: 0xffc6, darwin: 0x65, windows: 0x78},
	"f10":          {evdev: 68, x11: 0xffc7, darwin: 0x6d, windows: 0x79},
	"f11":          {evdev: 87, x11: 0xffc8, darwin: 0x67, windows: 0x7a},
	"f12":          {evdev: 88, x11: 0xffc9, darwin: 0x6f, windows: 0x7b},
	"space":        {evdev: 57, x11: 0x0020, darwin: 0x31, windows: 0x20},
	"enter":        {evdev: 28, x11: 0xff0d, darwin: 0x24, windows: 0x0d},
	"escape":       {evdev: 1, x11: 0xff1b, darwin: 0x35, windows: 0x1b},
	"tab":          {evdev: 15, x11: 0xff09, darwin: 0x30, windows: 0x09},
	"backspace":    {evdev: 14, x11: 0xff08, darwin: 0x33, windows: 0x08},
	"caps_lock":    {evdev: 58, x11: 0xffe5, darwin: 0x39, windows: 0x14},
	"scroll_lock":  {evdev: 70, x11: 0xff14, windows: 0x91},
	"print_screen": {evdev: 99, x11: 0xff61, windows: 0x2c},
	"pause":        {evdev: 119, x11: 0xff13, windows: 0x13},
	"insert":       {evdev: 110, x11: 0xff63, darwin: 0x72, windows: 0x2d},
	"delete":       {evdev: 111, x11: 0xffff, darwin: 0x75, windows: 0x2e},
	"home":         {evdev: 102, x11: 0xff50, darwin: 0x73, windows: 0x24},
	"end":          {evdev: 107, x11: 0xff57, darwin: 0x77, windows: 0x23},
	"page_up":      {evdev: 104, x11: 0xff55, darwin: 0x74, windows: 0x21},
	"page_down":    {evdev: 109, x11: 0xff56, darwin: 0x79, windows: 0x22},
}

var keyAliases = map[string]string{
	"return":   "enter",
	"esc":      "escape",
	"pgup":     "page_up",
	"pgdown":   "page_down",
	"del":      "delete",
	"ins":      "insert",
	"rctrl":    "ctrl_r",
	"lctrl":    "ctrl_l",
	"cmd_r":    "super_r",
	"cmd_l":    "super_l",
	"option_r": "alt_r",
	"option_l": "alt_l",
}

// pressKeys is the closed set accepted by Backend.PressKey.
var pressKeys = map[string]struct{}{
	"enter":     {},
	"tab":       {},
	"escape":    {},
	"space":     {},
	"backspace": {},
}

// Modifier is a platform-neutral hotkey modifier.
type Modifier int

const (
	ModCtrl Modifier = iota + 1
	ModShift
	ModAlt
	ModSuper
)

func (m Modifier) String() string {
	switch m {
	case ModCtrl:
		return "ctrl"
	case ModShift:
		return "shift"
	case ModAlt:
		return "alt"
	case ModSuper:
		return "super"
	default:
		return fmt.Sprintf("modifier(%d)", int(m))
	}
}

// keys that satisfy each modifier when held
var modifierKeys = map[Modifier][]string{
	ModCtrl:  {"ctrl_l", "ctrl_r"},
	ModShift: {"shift_l", "shift_r"},
	ModAlt:   {"alt_l", "alt_r"},
	ModSuper: {"super_l", "super_r"},
}

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"win":     ModSuper,
	"meta":    ModSuper,
}

// Combo is a parsed hotkey: zero or more modifiers plus one trigger key.
type Combo struct {
	Modifiers []Modifier
	Key       string
}

func (c Combo) String() string {
	parts := make([]string, 0, len(c.Modifiers)+1)
	for _, mod := range c.Modifiers {
		parts = append(parts, mod.String())
	}
	return strings.Join(append(parts, c.Key), "+")
}

// ParseCombo accepts forms like "ctrl_r", "f12" and "ctrl+shift+space".
// A sided modifier such as "alt_r" may appear before the trigger key and
// counts as its generic modifier.
func ParseCombo(value string) (Combo, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return Combo{}, fmt.Errorf("empty hotkey: %w", apperr.ErrInvalidArgument)
	}

	parts := strings.Split(raw, "+")
	key := normalizeKeyName(parts[len(parts)-1])
	if _, ok := keyTable[key]; !ok {
		return Combo{}, fmt.Errorf("hotkey %q: unknown key %q: %w", value, parts[len(parts)-1], apperr.ErrInvalidArgument)
	}

	combo := Combo{Key: key}
	seen := map[Modifier]bool{}
	for _, part := range parts[:len(parts)-1] {
		mod, ok := parseModifier(part)
		if !ok {
			return Combo{}, fmt.Errorf("hotkey %q: unknown modifier %q: %w", value, part, apperr.ErrInvalidArgument)
		}
		if seen[mod] {
			continue
		}
		seen[mod] = true
		combo.Modifiers = append(combo.Modifiers, mod)
	}

	return combo, nil
}

// ModifierOnly reports whether the trigger key is itself a modifier, as in
// the default "ctrl_r". OS hotkey APIs never fire for such combos.
func (c Combo) ModifierOnly() bool {
	_, ok := sidedModifier(c.Key)
	return ok
}

func sidedModifier(key string) (Modifier, bool) {
	for mod, keys := range modifierKeys {
		for _, k := range keys {
			if k == key {
				return mod, true
			}
		}
	}
	return 0, false
}

func parseModifier(name string) (Modifier, bool) {
	normalized := normalizeKeyName(name)
	if mod, ok := modifierNames[normalized]; ok {
		return mod, true
	}
	return sidedModifier(normalized)
}

func normalizeKeyName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if alias, ok := keyAliases[normalized]; ok {
		return alias
	}
	return normalized
}

func lookupKey(name string) (keyCodes, bool) {
	codes, ok := keyTable[normalizeKeyName(name)]
	return codes, ok
}

func unknownKeyError(name string) error {
	return fmt.Errorf("key %q: %w", name, apperr.ErrInvalidArgument)
}

// nativeMods maps the combo's modifiers through an OS table.
func nativeMods[M any](combo Combo, table map[Modifier]M) []M {
	mods := make([]M, 0, len(combo.Modifiers))
	for _, mod := range combo.Modifiers {
		if native, ok := table[mod]; ok {
			mods = append(mods, native)
		}
	}
	return mods
}
