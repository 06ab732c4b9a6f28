package guard

// ScrollLockPatch pins the host document while playback is open. Overlay
// scripts commonly force scroll jumps to drag the viewport onto injected
// content; locking overflow keeps the player in view. Restore puts the
// original inline overflow value back, including the empty one.
func ScrollLockPatch() Patch {
	install := `() => {
	if (window.__scrollLock) return true;
	window.__scrollLock = { overflow: document.body.style.overflow || '' };
	document.body.style.overflow = 'hidden';
	return true;
}`

	restore := `() => {
	if (!window.__scrollLock) return false;
	document.body.style.overflow = window.__scrollLock.overflow;
	delete window.__scrollLock;
	return true;
}`

	return scriptPatch{name: "scroll-lock", install: install, restore: restore}
}
