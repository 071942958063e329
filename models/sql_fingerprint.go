// SQL 指纹生成工具函数
// 报告中的 SQL 哈希值在云厂商未提供时由指纹计算得出
package models

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	reMultiLineComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reSingleLineComment = regexp.MustCompile(`(?m)--.*$`)
	reStringLiteral     = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	reNumberLiteral     = regexp.MustCompile(`\b\d+\.?\d*\b`)
	reInList            = regexp.MustCompile(`(?i)IN\s*\(\s*\?(?:\s*,\s*\?)*\s*\)`)
	reWhitespace        = regexp.MustCompile(`\s+`)
)

// GenerateSQLFingerprint 生成 SQL 指纹（将参数替换为占位符）
func GenerateSQLFingerprint(sql string) string {
	if sql == "" {
		return ""
	}

	fingerprint := reMultiLineComment.ReplaceAllString(sql, "")
	fingerprint = reSingleLineComment.ReplaceAllString(fingerprint, "")

	// 字符串和数字常量替换为 ?
	fingerprint = reStringLiteral.ReplaceAllString(fingerprint, "?")
	fingerprint = reNumberLiteral.ReplaceAllString(fingerprint, "?")

	// IN (?, ?, ?) 折叠为 IN (?)
	fingerprint = reInList.ReplaceAllString(fingerprint, "IN (?)")

	fingerprint = reWhitespace.ReplaceAllString(fingerprint, " ")
	return strings.ToUpper(strings.TrimSpace(fingerprint))
}

// GenerateSQLHash 生成 SQL 指纹的 MD5 哈希
func GenerateSQLHash(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	hash := md5.Sum([]byte(fingerprint))
	return hex.EncodeToString(hash[:])
}
