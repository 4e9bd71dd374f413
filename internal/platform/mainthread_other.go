//go:build !linux && !darwin && !windows

package platform

func RunOnMainThread(fn func()) {
	fn()
}
