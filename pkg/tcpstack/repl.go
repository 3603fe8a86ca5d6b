package tcpstack

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Reference file:
// https://brown-csci1680.github.io/iptcp-docs/specs/repl-commands/

const FILE_CHUNK_SIZE = 4096

// FallbackFunc gets a shot at any command the TCP REPL doesn't know
type FallbackFunc func(args []string, out io.Writer) bool

// Background commands print from their own goroutines
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Repl reads commands from in until it runs dry or sees "q"
func (ts *TCPStack) Repl(in io.Reader, out io.Writer, fallback FallbackFunc) {
	w := &lockedWriter{w: out}
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(w, "TCP REPL started. Type 'help' for commands.")

	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			break
		}

		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "a":
			if len(args) != 2 {
				fmt.Fprintln(w, "Usage: a <port>")
				continue
			}
			port, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				fmt.Fprintln(w, "Invalid port number")
				continue
			}
			ls, err := VListen(ts, uint16(port))
			if err != nil {
				fmt.Fprintf(w, "Error listening: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "Listening on port %d with socket %d\n", port, ls.SID)
			go handleAccept(ls, w)

		case "c":
			if len(args) != 3 {
				fmt.Fprintln(w, "Usage: c <ip> <port>")
				continue
			}
			addr, port, err := parseAddrPort(args[1], args[2])
			if err != nil {
				fmt.Fprintln(w, err)
				continue
			}
			go handleConnect(ts, addr, port, w)

		case "s":
			// s <sid> <data ...>
			if len(args) < 3 {
				fmt.Fprintln(w, "Usage: s <socket ID> <data>")
				continue
			}
			socket, err := ts.normalSocket(args[1])
			if err != nil {
				fmt.Fprintln(w, err)
				continue
			}
			n, err := socket.VWrite([]byte(strings.Join(args[2:], " ")))
			if err != nil {
				fmt.Fprintf(w, "Error writing: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "Wrote %d bytes\n", n)

		case "r":
			if len(args) != 3 {
				fmt.Fprintln(w, "Usage: r <socket ID> <numbytes>")
				continue
			}
			socket, err := ts.normalSocket(args[1])
			if err != nil {
				fmt.Fprintln(w, err)
				continue
			}
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				fmt.Fprintln(w, "Invalid byte count")
				continue
			}
			buf := make([]byte, n)
			n, err = socket.VRead(buf)
			if err != nil {
				fmt.Fprintf(w, "Error reading: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "Read %d bytes: %s\n", n, string(buf[:n]))

		case "cl", "ab":
			if len(args) != 2 {
				fmt.Fprintf(w, "Usage: %s <socket ID>\n", args[0])
				continue
			}
			sid, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Fprintln(w, "Invalid socket ID")
				continue
			}
			socket, err := ts.GetSocketByID(sid)
			if err != nil {
				fmt.Fprintln(w, err)
				continue
			}
			if normal, ok := socket.(*NormalSocket); ok && args[0] == "ab" {
				err = normal.VAbort()
			} else {
				err = socket.VClose()
			}
			if err != nil {
				fmt.Fprintf(w, "Error closing: %v\n", err)
			}

		case "sf":
			// sf <file path> <addr> <port>
			if len(args) != 4 {
				fmt.Fprintln(w, "Usage: sf <file path> <addr> <port>")
				continue
			}
			addr, port, err := parseAddrPort(args[2], args[3])
			if err != nil {
				fmt.Fprintln(w, err)
				continue
			}
			go handleSendFile(ts, args[1], addr, port, w)

		case "rf":
			// rf <dest file> <port>
			if len(args) != 3 {
				fmt.Fprintln(w, "Usage: rf <dest file> <port>")
				continue
			}
			port, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				fmt.Fprintln(w, "Invalid port number")
				continue
			}
			ls, err := VListen(ts, uint16(port))
			if err != nil {
				fmt.Fprintf(w, "Error listening: %v\n", err)
				continue
			}
			go handleReceiveFile(ls, args[1], w)

		case "ls":
			handleList(ts, w)

		case "help":
			printHelp(w)

		case "q", "exit":
			return

		default:
			if fallback == nil || !fallback(args, w) {
				fmt.Fprintln(w, "Unknown command. Type 'help' for available commands.")
			}
		}
	}
}

func parseAddrPort(addrStr, portStr string) (netip.Addr, uint16, error) {
	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return netip.Addr{}, 0, errors.New("Invalid IP address")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.Addr{}, 0, errors.New("Invalid port number")
	}
	return addr, uint16(port), nil
}

func (ts *TCPStack) normalSocket(sidStr string) (*NormalSocket, error) {
	sid, err := strconv.Atoi(sidStr)
	if err != nil {
		return nil, errors.New("Invalid socket ID")
	}
	socket, err := ts.GetSocketByID(sid)
	if err != nil {
		return nil, err
	}
	normal, ok := socket.(*NormalSocket)
	if !ok {
		return nil, errors.Errorf("socket %d is a listen socket", sid)
	}
	return normal, nil
}

func handleAccept(ls *ListenSocket, out io.Writer) {
	for {
		conn, err := ls.VAccept()
		if err != nil {
			return
		}
		fmt.Fprintf(out, "New connection on socket %d => created new socket %d\n", ls.SID, conn.SID)
	}
}

func handleConnect(ts *TCPStack, addr netip.Addr, port uint16, out io.Writer) {
	socket, err := VConnect(ts, addr, port)
	if err != nil {
		fmt.Fprintf(out, "Connection failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Created new socket with ID %d\n", socket.SID)
}

func handleSendFile(ts *TCPStack, path string, addr netip.Addr, port uint16, out io.Writer) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(out, "Error opening file: %v\n", err)
		return
	}
	defer f.Close()

	socket, err := VConnect(ts, addr, port)
	if err != nil {
		fmt.Fprintf(out, "Connection failed: %v\n", err)
		return
	}

	total := 0
	buf := make([]byte, FILE_CHUNK_SIZE)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			written, werr := socket.VWrite(buf[:n])
			total += written
			if werr != nil {
				fmt.Fprintf(out, "Error sending file: %v\n", werr)
				socket.VAbort()
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(out, "Error reading file: %v\n", err)
			socket.VAbort()
			return
		}
	}

	socket.VClose()
	fmt.Fprintf(out, "Sent %d total bytes\n", total)
}

func handleReceiveFile(ls *ListenSocket, path string, out io.Writer) {
	// One file per listener
	defer ls.VClose()

	socket, err := ls.VAccept()
	if err != nil {
		return
	}
	fmt.Fprintln(out, "rf: client connected!")

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(out, "Error creating file: %v\n", err)
		socket.VAbort()
		return
	}
	defer f.Close()

	total := 0
	buf := make([]byte, FILE_CHUNK_SIZE)
	for {
		n, err := socket.VRead(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				fmt.Fprintf(out, "Error writing file: %v\n", werr)
				socket.VAbort()
				return
			}
			total += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(out, "Error receiving file: %v\n", err)
			return
		}
	}

	socket.VClose()
	fmt.Fprintf(out, "Received %d total bytes\n", total)
}

func handleList(ts *TCPStack, out io.Writer) {
	fmt.Fprintln(out, "SID  LAddr LPort  RAddr RPort  Status")
	for _, info := range ts.Sockets() {
		if info.State == TCP_LISTEN {
			fmt.Fprintf(out, "%d  0.0.0.0 %d  0.0.0.0 0  %s\n", info.SID, info.LocalPort, info.State)
			continue
		}
		fmt.Fprintf(out, "%d  %s %d  %s %d  %s\n",
			info.SID, info.LocalAddress, info.LocalPort,
			info.RemoteAddress, info.RemotePort, info.State)
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	fmt.Fprintln(out, "  a <port>                   - Accept connections on port")
	fmt.Fprintln(out, "  c <ip> <port>              - Connect to ip:port")
	fmt.Fprintln(out, "  s <sid> <data>             - Send data on a socket")
	fmt.Fprintln(out, "  r <sid> <numbytes>         - Read up to numbytes from a socket")
	fmt.Fprintln(out, "  cl <sid>                   - Close a socket")
	fmt.Fprintln(out, "  ab <sid>                   - Abort a connection")
	fmt.Fprintln(out, "  sf <file> <ip> <port>      - Send a file")
	fmt.Fprintln(out, "  rf <file> <port>           - Receive a file")
	fmt.Fprintln(out, "  ls                         - List all sockets")
	fmt.Fprintln(out, "  li, ln, up, down, send     - IP layer commands")
	fmt.Fprintln(out, "  help                       - Show this help message")
	fmt.Fprintln(out, "  q                          - Quit")
	fmt.Fprintln(out)
}
