package model

// TextPrompt wraps a plain string as a single-element user prompt.
func TextPrompt(text string) []UserContent {
	return []UserContent{{Text: text}}
}

// AttachmentPrompt appends a media-typed binary blob to a prompt sequence.
func AttachmentPrompt(prompt []UserContent, mediaType, name string, data []byte) []UserContent {
	return append(prompt, UserContent{Attachment: &Attachment{MediaType: mediaType, Name: name, Data: data}})
}
