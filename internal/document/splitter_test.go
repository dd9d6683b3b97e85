package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplitText 测试文本切分的基本行为
func TestSplitText(t *testing.T) {
	splitter := NewRecursiveSplitter()

	t.Run("short text stays whole", func(t *testing.T) {
		pieces := splitter.SplitText("This is a short paragraph.")
		require.Len(t, pieces, 1)
		assert.Equal(t, "This is a short paragraph.", pieces[0])
	})

	t.Run("empty text produces no chunks", func(t *testing.T) {
		assert.Empty(t, splitter.SplitText(""))
		assert.Empty(t, splitter.SplitText("   \n\n  "))
	})

	t.Run("long text respects chunk size", func(t *testing.T) {
		var builder strings.Builder
		for i := 0; i < 100; i++ {
			builder.WriteString("This is sentence number one of a fairly long paragraph. ")
		}
		pieces := splitter.SplitText(builder.String())

		require.Greater(t, len(pieces), 1)
		for i, piece := range pieces {
			assert.LessOrEqual(t, len(piece), 1000, "chunk %d exceeds chunk size", i)
		}
	})

	t.Run("paragraph separator preferred", func(t *testing.T) {
		para := strings.Repeat("aaaa ", 150) // 750字符左右
		text := para + "\n\n" + para
		pieces := splitter.SplitText(text)

		require.Len(t, pieces, 2)
		assert.NotContains(t, pieces[0], "\n\n")
	})
}

// TestSplitDeterminism 测试相同输入总是产生相同的切分结果
func TestSplitDeterminism(t *testing.T) {
	splitter := NewRecursiveSplitter()

	var builder strings.Builder
	for i := 0; i < 50; i++ {
		builder.WriteString("Paragraph content that repeats to build a long document.\n\n")
	}
	text := builder.String()

	first := splitter.SplitText(text)
	for i := 0; i < 5; i++ {
		again := splitter.SplitText(text)
		require.Equal(t, first, again, "run %d differs", i)
	}
}

// TestSplitOverlap 测试相邻块之间的重叠
func TestSplitOverlap(t *testing.T) {
	splitter := NewRecursiveSplitter(
		WithChunkSize(100),
		WithChunkOverlap(30),
		WithSeparators([]string{" ", ""}),
	)

	words := make([]string, 60)
	for i := range words {
		words[i] = "word"
	}
	pieces := splitter.SplitText(strings.Join(words, " "))
	require.Greater(t, len(pieces), 1)

	// 后一个块的开头应该出现在前一个块的结尾
	for i := 1; i < len(pieces); i++ {
		head := pieces[i]
		if len(head) > 20 {
			head = head[:20]
		}
		assert.Contains(t, pieces[i-1], strings.TrimSpace(head),
			"chunk %d does not overlap with its predecessor", i)
	}
}

// TestSplitPage 测试按页切分和全局序号
func TestSplitPage(t *testing.T) {
	splitter := NewRecursiveSplitter(WithChunkSize(50), WithChunkOverlap(10))

	t.Run("chunks carry page number", func(t *testing.T) {
		text := strings.Repeat("sentence one here. ", 10)
		chunks, next := splitter.SplitPage(text, 7, 0)

		require.NotEmpty(t, chunks)
		assert.Equal(t, len(chunks), next)
		for _, chunk := range chunks {
			assert.Equal(t, 7, chunk.Page)
		}
	})

	t.Run("index continues across pages", func(t *testing.T) {
		text := strings.Repeat("more text content. ", 10)
		first, next := splitter.SplitPage(text, 1, 0)
		second, final := splitter.SplitPage(text, 2, next)

		require.NotEmpty(t, first)
		require.NotEmpty(t, second)
		assert.Equal(t, next, second[0].Index)
		assert.Equal(t, next+len(second), final)

		// 全局序号连续递增
		all := append(append([]Chunk{}, first...), second...)
		for i, chunk := range all {
			assert.Equal(t, i, chunk.Index)
		}
	})

	t.Run("empty page yields no chunks", func(t *testing.T) {
		chunks, next := splitter.SplitPage("", 3, 5)
		assert.Empty(t, chunks)
		assert.Equal(t, 5, next)
	})

	t.Run("page shorter than overlap yields one chunk", func(t *testing.T) {
		chunks, _ := splitter.SplitPage("tiny", 1, 0)
		require.Len(t, chunks, 1)
		assert.Equal(t, "tiny", chunks[0].Text)
	})
}

// TestSplitUnicode 测试超长文本硬切分不破坏多字节字符
func TestSplitUnicode(t *testing.T) {
	splitter := NewRecursiveSplitter(
		WithChunkSize(50),
		WithChunkOverlap(0),
		WithSeparators([]string{""}),
	)

	text := strings.Repeat("中文内容测试", 30)
	pieces := splitter.SplitText(text)

	require.Greater(t, len(pieces), 1)
	for _, piece := range pieces {
		assert.True(t, strings.HasPrefix(strings.Join(pieces, ""), "中文"))
		for _, r := range piece {
			assert.NotEqual(t, '�', r, "chunk contains a broken rune")
		}
	}
}
