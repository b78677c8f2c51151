// Package audio holds the PCM plumbing around a recording: fixed-duration
// chunking for live streaming and WAV files for the batch path.
package audio
