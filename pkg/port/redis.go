package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/redcon"

	"github.com/nobletooth/loquat/pkg/index"
)

const RedisOk = "OK"

var address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool    // Closes the connection if true.
	writeNil        bool    // Writes a nil value if true.
	err             *string // Error to return if set.
	writeInt        *int    // Writes an integer value if set.
	writeString     string  // Writes a string value if set.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

type redisHandler struct {
	store *Store
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store *Store) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil store")
	}
	return &redisHandler{store: store}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch strings.ToUpper(cmd.command) {
	case "PING":
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SET":
		if len(cmd.args) != 2 {
			return writeRedisError(errors.New("wrong number of arguments for 'SET' command"))
		}
		key, value := cmd.args[0], cmd.args[1]
		// The index never updates in place; an existing key answers nil.
		if err := rh.store.Set(key, value); errors.Is(err, index.ErrKeyExists) {
			return writeRedisNil()
		} else if err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return writeRedisError(errors.New("wrong number of arguments for 'GET' command"))
		}
		if value, err := rh.store.Get(cmd.args[0]); errors.Is(err, index.ErrKeyNotFound) {
			return writeRedisNil()
		} else if err != nil {
			return writeRedisError(err)
		} else {
			return writeRedisString(value)
		}
	case "EXISTS":
		if len(cmd.args) != 1 {
			return writeRedisError(errors.New("wrong number of arguments for 'EXISTS' command"))
		}
		if rh.store.Exists(cmd.args[0]) {
			return writeRedisInt(1)
		}
		return writeRedisInt(0)
	case "DEL":
		if len(cmd.args) < 1 {
			return writeRedisError(errors.New("wrong number of arguments for 'DEL' command"))
		}
		deletedCount := 0
		for _, key := range cmd.args {
			if rh.store.Delete(key) {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "DBSIZE":
		return writeRedisInt(rh.store.Len())
	case "SAVE":
		if _, _, err := rh.store.Save(); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "FLUSHDB":
		rh.store.Flush()
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// writeOutput flushes the handler's output onto the connection.
func writeOutput(conn redcon.Conn, output redisOutput) {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeNil:
		conn.WriteNull()
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	default:
		conn.WriteString(output.writeString)
	}
}

// RunRedisServer starts a Redis protocol server over the provided Store and
// serves until the context is cancelled.
func RunRedisServer(ctx context.Context, store *Store) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			output := redisHandler.handle(command)
			writeOutput(conn, output)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close loquat server: %w", err)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
