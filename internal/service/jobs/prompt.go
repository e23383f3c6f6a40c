package jobs

import (
	"storyloom/internal/service/template"
)

// Reference chunk types consulted when assembling generation context.
const (
	ChunkTypeScene = "scene"
	ChunkTypeBrief = "brief"
	ChunkTypeStyle = "style"
)

// DefaultChunkTemplate is the prompt used when a job carries no "template"
// prop. Conditional markers keep sections out of the prompt entirely when
// the book has no brief, style guide or neighbors.
const DefaultChunkTemplate = `You are drafting one passage of a longer book. Write only the passage itself, no commentary.
{Book brief:
|Brief}
{Style guide:
|Style}
{The passage immediately before this one ends with:
|PreviousChunk}
{The passage immediately after this one begins with:
|NextChunk}
{Current draft of this passage, to be rewritten:
|ChunkText}
{Additional instructions:
|Instructions}`

// chunkBundle assembles the standard context bundle for generating one
// chunk. Every value resolves lazily against the store at substitution time.
func (d *Deps) chunkBundle(bookID, chunkID, instructions string) template.Bundle {
	return template.Bundle{
		"ChunkText":     template.ChunkText{Chunks: d.Chunks, ChunkID: chunkID},
		"PreviousChunk": template.NeighborText{Chunks: d.Chunks, ChunkID: chunkID, Forward: false},
		"NextChunk":     template.NeighborText{Chunks: d.Chunks, ChunkID: chunkID, Forward: true},
		"Brief":         template.ReferenceText{Chunks: d.Chunks, BookID: bookID, Type: ChunkTypeBrief},
		"Style":         template.ReferenceText{Chunks: d.Chunks, BookID: bookID, Type: ChunkTypeStyle},
		"Instructions":  template.Literal(instructions),
	}
}
