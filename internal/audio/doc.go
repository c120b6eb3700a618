// Package audio plays PCM through the system audio device using oto/v3 and
// reports how far the device has actually got, which is what highlighting
// follows.
package audio
