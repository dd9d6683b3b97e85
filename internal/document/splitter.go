package document

import (
	"strings"
)

// Chunk 文本分块
// Page为来源页码，Index为该块在文档中的全局序号（从0递增）
type Chunk struct {
	Text  string // 块文本
	Page  int    // 来源页码
	Index int    // 全局序号
}

// SplitterConfig 分块器配置
type SplitterConfig struct {
	ChunkSize    int      // 块目标大小（字符数）
	ChunkOverlap int      // 相邻块之间的重叠大小
	Separators   []string // 分隔符优先级列表，最后一项必须是空串
}

// DefaultSplitterConfig 默认分块配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// RecursiveSplitter 递归字符分块器
// 按分隔符优先级递归切分，超长片段降级到下一个分隔符，
// 空串分隔符作为兜底保证任何文本都能被切开
type RecursiveSplitter struct {
	config SplitterConfig
}

// SplitterOption 分块器配置选项
type SplitterOption func(*RecursiveSplitter)

// WithChunkSize 设置块大小
func WithChunkSize(size int) SplitterOption {
	return func(s *RecursiveSplitter) {
		if size > 0 {
			s.config.ChunkSize = size
		}
	}
}

// WithChunkOverlap 设置重叠大小
func WithChunkOverlap(overlap int) SplitterOption {
	return func(s *RecursiveSplitter) {
		if overlap >= 0 {
			s.config.ChunkOverlap = overlap
		}
	}
}

// WithSeparators 设置分隔符列表
func WithSeparators(seps []string) SplitterOption {
	return func(s *RecursiveSplitter) {
		if len(seps) > 0 {
			s.config.Separators = seps
		}
	}
}

// NewRecursiveSplitter 创建递归分块器
func NewRecursiveSplitter(opts ...SplitterOption) *RecursiveSplitter {
	s := &RecursiveSplitter{config: DefaultSplitterConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.ChunkOverlap >= s.config.ChunkSize {
		s.config.ChunkOverlap = s.config.ChunkSize / 2
	}
	return s
}

// SplitText 将单段文本切分为字符串片段
// 结果确定：相同输入总是产生相同输出
func (s *RecursiveSplitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitRecursive(text, s.config.Separators)
}

// SplitPage 将一页文本切分为分块
// startIndex为本页第一个块的全局序号，返回分块与下一个可用序号
func (s *RecursiveSplitter) SplitPage(text string, page int, startIndex int) ([]Chunk, int) {
	pieces := s.SplitText(text)
	if len(pieces) == 0 {
		return nil, startIndex
	}
	chunks := make([]Chunk, 0, len(pieces))
	idx := startIndex
	for _, piece := range pieces {
		chunks = append(chunks, Chunk{
			Text:  piece,
			Page:  page,
			Index: idx,
		})
		idx++
	}
	return chunks, idx
}

// splitRecursive 按分隔符优先级递归切分文本
func (s *RecursiveSplitter) splitRecursive(text string, separators []string) []string {
	if len(text) <= s.config.ChunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	// 选择当前层级的分隔符
	separator := ""
	remaining := separators
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			remaining = nil
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	// 硬切分产生的片段已经满足大小要求，直接返回
	if separator == "" {
		var result []string
		for _, piece := range splitByLength(text, s.config.ChunkSize) {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	splits := strings.Split(text, separator)

	var result []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		merged := strings.TrimSpace(strings.Join(current, separator))
		if merged != "" {
			result = append(result, merged)
		}
	}

	for _, piece := range splits {
		pieceLen := len(piece)

		// 单个片段仍然超长，降级到下一个分隔符继续切分
		if pieceLen > s.config.ChunkSize {
			flush()
			current = nil
			currentLen = 0
			result = append(result, s.splitRecursive(piece, remaining)...)
			continue
		}

		if currentLen+pieceLen+len(separator) > s.config.ChunkSize && len(current) > 0 {
			flush()
			current = s.overlapTail(current, separator)
			currentLen = joinedLength(current, separator)
		}

		current = append(current, piece)
		currentLen += pieceLen
		if len(current) > 1 {
			currentLen += len(separator)
		}
	}
	flush()

	return result
}

// overlapTail 取当前窗口尾部不超过重叠大小的片段，作为下一个块的开头
func (s *RecursiveSplitter) overlapTail(pieces []string, separator string) []string {
	if s.config.ChunkOverlap <= 0 {
		return nil
	}
	var tail []string
	total := 0
	for i := len(pieces) - 1; i >= 0; i-- {
		pieceLen := len(pieces[i])
		if total+pieceLen > s.config.ChunkOverlap && len(tail) > 0 {
			break
		}
		if pieceLen > s.config.ChunkOverlap {
			break
		}
		tail = append([]string{pieces[i]}, tail...)
		total += pieceLen + len(separator)
	}
	return tail
}

// joinedLength 计算片段拼接后的长度
func joinedLength(pieces []string, separator string) int {
	if len(pieces) == 0 {
		return 0
	}
	total := 0
	for _, p := range pieces {
		total += len(p)
	}
	return total + len(separator)*(len(pieces)-1)
}

// splitByLength 按固定字节长度硬切分，注意不要切断UTF-8字符
func splitByLength(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	var result []string
	var current []rune
	currentBytes := 0
	for _, r := range text {
		runeBytes := len(string(r))
		if currentBytes+runeBytes > size && len(current) > 0 {
			result = append(result, string(current))
			current = current[:0]
			currentBytes = 0
		}
		current = append(current, r)
		currentBytes += runeBytes
	}
	if len(current) > 0 {
		result = append(result, string(current))
	}
	return result
}
