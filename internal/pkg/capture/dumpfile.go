// Package capture reads TLS records from a packet source: either the
// line-oriented hex packet dump format test fixtures use, or a capture
// file read through gopacket.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseHexLine parses one line of a packet dump file: whitespace-separated
// hex byte strings, e.g. "16 03 03 00 05 01 02 03 04 05".
func ParseHexLine(line string) ([]byte, error) {
	fields := strings.Fields(line)
	packet := make([]byte, 0, len(fields))

	for _, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("parse hex byte %q: %w", f, err)
		}
		packet = append(packet, byte(v))
	}

	return packet, nil
}

// ReadDumpFile reads every non-empty line of path as a packet, in file
// order.
func ReadDumpFile(path string) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	defer file.Close()

	var packets [][]byte
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		packet, err := ParseHexLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if len(packet) > 0 {
			packets = append(packets, packet)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dump file: %w", err)
	}

	return packets, nil
}

// IndexLineOffsets returns the byte offset of the start of every line in
// path, 0-indexed, so a later seek can jump straight to a given line
// without rescanning from the top. The last element is the offset at
// which reading stopped (end of file), so a file of n newline-terminated
// lines yields n+1 offsets.
func IndexLineOffsets(path string) ([]int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	defer file.Close()

	var offsets []int64
	var pos int64

	reader := bufio.NewReader(file)
	for {
		offsets = append(offsets, pos)

		line, err := reader.ReadString('\n')
		pos += int64(len(line))
		if err != nil {
			break
		}
	}

	return offsets, nil
}

// PacketsByLineNumbers returns the parsed packet for each 1-indexed line
// number in lineNumbers, skipping any number outside the file's range.
// Grounded in the line-indexed random-access lookup a test harness needs
// to pull a specific fixture packet without loading the whole file.
func PacketsByLineNumbers(path string, lineNumbers []int) ([][]byte, error) {
	offsets, err := IndexLineOffsets(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	defer file.Close()

	var packets [][]byte
	for _, lineNum := range lineNumbers {
		if lineNum <= 0 || lineNum > len(offsets) {
			continue
		}

		if _, err := file.Seek(offsets[lineNum-1], 0); err != nil {
			return nil, fmt.Errorf("seek to line %d: %w", lineNum, err)
		}

		reader := bufio.NewReader(file)
		line, _ := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		packet, err := ParseHexLine(line)
		if err != nil {
			return nil, err
		}
		packets = append(packets, packet)
	}

	return packets, nil
}
