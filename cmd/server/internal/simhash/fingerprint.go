package simhash

import (
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold 汉明距离 <= 10 视为同一句话的两次转写
const DefaultThreshold = 10

var folder = cases.Fold()

// Normalize 做 NFKC 归一化和大小写折叠，并压缩空白
// 两次独立转写的同一段语音常只在全角/半角、大小写上有差别
func Normalize(text string) string {
	folded := folder.String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// segmentFeatureSet 实现 simhash.FeatureSet 接口
type segmentFeatureSet struct {
	text string
}

// GetFeatures 提取字符级 bigram 特征，跳过标点与空白
// 对中文和英文短句都适用
func (s segmentFeatureSet) GetFeatures() []simhash.Feature {
	runes := make([]rune, 0, len(s.text))
	for _, r := range s.text {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			continue
		}
		runes = append(runes, r)
	}
	if len(runes) == 0 {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0, len(runes))
	for i := 0; i < len(runes)-1; i++ {
		features = append(features, simhash.NewFeature([]byte(string(runes[i:i+2]))))
	}

	// 文本很短（<4个字符）时补充单字符特征
	if len(runes) < 4 {
		for _, r := range runes {
			features = append(features, simhash.NewFeature([]byte(string(r))))
		}
	}
	return features
}

// Fingerprint 计算归一化后文本的 64 位 SimHash 指纹，空文本返回 0
func Fingerprint(text string) uint64 {
	fs := segmentFeatureSet{text: Normalize(text)}
	if len(fs.GetFeatures()) == 0 {
		return 0
	}
	sh := simhash.NewSimhash()
	return sh.GetSimhash(fs)
}

// HammingDistance 计算两个指纹不同位的数量（0-64）
func HammingDistance(hash1, hash2 uint64) int {
	x := hash1 ^ hash2
	count := 0
	for x != 0 {
		count++
		x &= x - 1 // 清除最右边的1
	}
	return count
}
