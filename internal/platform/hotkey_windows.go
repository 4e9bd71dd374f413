package platform

import "golang.design/x/hotkey"

var nativeModifiers = map[Modifier]hotkey.Modifier{
	ModCtrl:  hotkey.ModCtrl,
	ModShift: hotkey.ModShift,
	ModAlt:   hotkey.ModAlt,
	ModSuper: hotkey.ModWin,
}

func nativeHotkey(combo Combo) ([]hotkey.Modifier, hotkey.Key, error) {
	codes, ok := lookupKey(combo.Key)
	if !ok {
		return nil, 0, unknownKeyError(combo.Key)
	}
	return nativeMods(combo, nativeModifiers), hotkey.Key(codes.windows), nil
}
