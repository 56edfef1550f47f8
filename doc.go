/*
Package uartcat implements the wire format, register model and checksum scheme of
UartCAT, a caterpillar-propagating memory-bus protocol riding on a UART daisy
chain.

A single master initiates every exchange; a chain of slave devices each receive
the frame, optionally read/write their own memory, forward the frame (possibly
mutated) to the next slave, and the last slave's transmission loops back to the
master. This package holds the parts shared by both ends of the wire: the
command header codec, the checksum transform, the register abstraction and the
standard register layout. The master engine lives in the master subpackage, the
slave command processor in the slave subpackage, and the byte-stream transport
in the transport subpackage.
*/
package uartcat
