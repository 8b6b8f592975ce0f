// Package inference calls the hosted models behind problem analysis: a
// vision model that transcribes a photo and a chat model that explains the
// transcription. Both speak the chat-completions protocol.
package inference
