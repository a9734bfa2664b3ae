/*
Package logkv implements a persistent log-structured key-value store.
Writes are appended to a durable log and an in-memory index maps each
key to the location of its most recent record, giving O(1) writes and
fast point lookups while surviving process crashes.

Data Structure Documentation

Store

A store is a directory containing one file per segment, named by a
monotonically increasing segment id. The highest-numbered file is the
open segment and accepts appends; all lower-numbered files are sealed
and immutable until replaced by compaction.

    Store layout:
    +-------------+-------------+---------+---------------------+
    | 000001.seg  | 000002.seg  |   ...   | 00000n.seg (open)   |
    +-------------+-------------+---------+---------------------+

Next to the segments, a small sequence.meta file records the number
of records removed by compaction; recovery adds it to the replay
count so that sequence numbers keep increasing across restarts.

Segment

A segment is a concatenation of records. Records are immutable once
written and are replayed in offset order during recovery.

    Segment layout:
    +----------+----------+---------+----------+
    | record 1 | record 2 |   ...   | record n |
    +----------+----------+---------+----------+

Record

A record is either a put or a tombstone. The checksum is a CRC-32
(IEEE) over all preceding bytes of the record.

    Record layout:
    +---------------+------------------+--------------------+-----------+-------------+-----------------+
    | kind (1 byte) | key len (varint) | value len (varint) | key bytes | value bytes | crc32 (4 bytes) |
    +---------------+------------------+--------------------+-----------+-------------+-----------------+

Tombstones carry an empty value. A record whose checksum fails to
verify marks the end of valid data in its segment; recovery truncates
the open segment at the last verified record boundary so that a crash
mid-write never loses previously durable data.
*/
package logkv
