package topics

// Renderer formats topic content for the terminal. Format is the file
// extension, including the dot.
type Renderer interface {
	Render(content string, format string) string
}

// PlainRenderer returns content unchanged.
type PlainRenderer struct{}

func (r *PlainRenderer) Render(content string, format string) string {
	return content
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(content string, format string) string

func (f RendererFunc) Render(content string, format string) string {
	return f(content, format)
}
